// Copyright 2020-2021 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package ocr

// region is a candidate text line, in source-image pixel coordinates.
type region struct {
	x, y, w, h int
}

// grayThreshold is the per-pixel grayscale cutoff below which a pixel is
// considered "ink" during line detection.
const grayThreshold = 200

const regionPadding = 5

// compositeOverWhite flattens an RGBA buffer onto a white background,
// returning an RGB buffer of the same pixel count: c' = c*a + 255*(1-a).
func compositeOverWhite(rgba []byte, w, h int) []byte {
	rgb := make([]byte, 3*w*h)
	for i := 0; i < w*h; i++ {
		r, g, b, a := rgba[4*i], rgba[4*i+1], rgba[4*i+2], rgba[4*i+3]
		af := float64(a) / 255
		rgb[3*i] = compositeChannel(r, af)
		rgb[3*i+1] = compositeChannel(g, af)
		rgb[3*i+2] = compositeChannel(b, af)
	}
	return rgb
}

func compositeChannel(c byte, alpha float64) byte {
	v := float64(c)*alpha + 255*(1-alpha)
	return clampByte(v)
}

func clampByte(v float64) byte {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return byte(v)
	}
}

// detectLines finds candidate text-line regions in an RGB buffer by row
// scan: a row "has text" if any pixel's grayscale average is below
// grayThreshold. Maximal runs of has-text rows become regions, padded 5px
// vertically, then trimmed/padded horizontally by the same rule. Regions
// narrower than 5px are dropped.
func detectLines(rgb []byte, w, h int) []region {
	rowHasText := make([]bool, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := 3 * (y*w + x)
			gray := (int(rgb[i]) + int(rgb[i+1]) + int(rgb[i+2])) / 3
			if gray < grayThreshold {
				rowHasText[y] = true
				break
			}
		}
	}

	var regions []region
	y := 0
	for y < h {
		if !rowHasText[y] {
			y++
			continue
		}
		start := y
		for y < h && rowHasText[y] {
			y++
		}
		end := y // exclusive

		top := maxInt(0, start-regionPadding)
		bottom := minInt(h, end+regionPadding)

		left, right, ok := columnExtent(rgb, w, h, top, bottom)
		if !ok {
			continue
		}
		left = maxInt(0, left-regionPadding)
		right = minInt(w, right+regionPadding)

		if right-left < regionPadding {
			continue
		}

		regions = append(regions, region{x: left, y: top, w: right - left, h: bottom - top})
	}

	return regions
}

// columnExtent finds the horizontal [left, right) bound of "ink" pixels
// within rows [top, bottom) of rgb.
func columnExtent(rgb []byte, w, h, top, bottom int) (left, right int, ok bool) {
	left, right = w, 0
	for y := top; y < bottom; y++ {
		for x := 0; x < w; x++ {
			i := 3 * (y*w + x)
			gray := (int(rgb[i]) + int(rgb[i+1]) + int(rgb[i+2])) / 3
			if gray < grayThreshold {
				if x < left {
					left = x
				}
				if x+1 > right {
					right = x + 1
				}
			}
		}
	}
	return left, right, right > left
}

// cropRGB extracts r from a w-wide RGB buffer.
func cropRGB(rgb []byte, w int, r region) []byte {
	out := make([]byte, 3*r.w*r.h)
	for y := 0; y < r.h; y++ {
		srcRow := (r.y+y)*w + r.x
		copy(out[3*y*r.w:3*(y+1)*r.w], rgb[3*srcRow:3*srcRow+3*r.w])
	}
	return out
}

// resizeNearest resizes an RGB buffer to targetH pixels tall, preserving
// aspect ratio, width clamped to [1, 1920].
func resizeNearest(rgb []byte, srcW, srcH, targetH int) (dstW int, out []byte) {
	if srcH == 0 {
		srcH = 1
	}
	dstW = srcW * targetH / srcH
	if dstW < 1 {
		dstW = 1
	}
	if dstW > 1920 {
		dstW = 1920
	}

	out = make([]byte, 3*dstW*targetH)
	for y := 0; y < targetH; y++ {
		sy := y * srcH / targetH
		for x := 0; x < dstW; x++ {
			sx := x * srcW / dstW
			si := 3 * (sy*srcW + sx)
			di := 3 * (y*dstW + x)
			out[di], out[di+1], out[di+2] = rgb[si], rgb[si+1], rgb[si+2]
		}
	}
	return dstW, out
}

// toCHWTensor converts an RGB (HWC) buffer into a normalised CHW float32
// tensor, v' = v/127.5 - 1, the layout onnxruntime_go expects.
func toCHWTensor(rgb []byte, w, h int) []float32 {
	out := make([]float32, 3*w*h)
	plane := w * h
	for i := 0; i < plane; i++ {
		out[i] = normalize(rgb[3*i])
		out[plane+i] = normalize(rgb[3*i+1])
		out[2*plane+i] = normalize(rgb[3*i+2])
	}
	return out
}

func normalize(v byte) float32 {
	return float32(v)/127.5 - 1
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
