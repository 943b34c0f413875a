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

package mediaenc

import (
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"os"

	"mediaforge/pkg/trickplay"
)

// ComposeTile resizes every input thumbnail to exactly width pixels wide
// (preserving aspect ratio) and draws them row-major into a
// TileWidth x TileHeight grid, writing the result as a single JPEG to
// opts.OutputPath. It returns the per-thumbnail pixel height: on the first
// call (opts.FixedHeight == 0) this is derived from the first thumbnail's
// aspect ratio; on later calls opts.FixedHeight is honoured as-is so every
// sheet for the same (video, width) uses identical thumbnail dimensions.
func (e *Encoder) ComposeTile(opts trickplay.ComposeTileOptions, jpegQuality, width int) (int, error) {
	if len(opts.InputPaths) == 0 {
		return 0, fmt.Errorf("compose tile: no input thumbnails")
	}

	thumbs := make([]image.Image, len(opts.InputPaths))
	for i, p := range opts.InputPaths {
		img, err := decodeJPEG(p)
		if err != nil {
			return 0, fmt.Errorf("could not decode thumbnail %s: %w", p, err)
		}
		thumbs[i] = img
	}

	thumbHeight := opts.FixedHeight
	if thumbHeight == 0 {
		b := thumbs[0].Bounds()
		thumbHeight = b.Dy() * width / b.Dx()
	}

	cols := opts.TileWidth
	rows := ceilDivInt(len(thumbs), cols)
	if rows > opts.TileHeight {
		rows = opts.TileHeight
	}

	canvas := image.NewRGBA(image.Rect(0, 0, cols*width, rows*thumbHeight))

	for i, thumb := range thumbs {
		col := i % cols
		row := i / cols
		if row >= rows {
			break
		}
		resized := resizeNearest(thumb, width, thumbHeight)
		dstRect := image.Rect(col*width, row*thumbHeight, (col+1)*width, (row+1)*thumbHeight)
		draw.Draw(canvas, dstRect, resized, image.Point{}, draw.Src)
	}

	if err := encodeJPEG(opts.OutputPath, canvas, jpegQuality); err != nil {
		return 0, err
	}

	return thumbHeight, nil
}

// GetSize returns the pixel dimensions of the JPEG at path without
// decoding its full pixel data.
func (e *Encoder) GetSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("could not open %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := jpeg.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("could not read jpeg header %s: %w", path, err)
	}
	return cfg.Width, cfg.Height, nil
}

func decodeJPEG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return jpeg.Decode(f)
}

func encodeJPEG(path string, img image.Image, quality int) error {
	if quality <= 0 || quality > 100 {
		quality = 85
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not create %s: %w", path, err)
	}
	defer f.Close()

	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("could not encode jpeg %s: %w", path, err)
	}
	return f.Close()
}

// resizeNearest returns a dstW x dstH nearest-neighbour resample of src.
func resizeNearest(src image.Image, dstW, dstH int) image.Image {
	srcB := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))

	for y := 0; y < dstH; y++ {
		sy := srcB.Min.Y + y*srcB.Dy()/dstH
		for x := 0; x < dstW; x++ {
			sx := srcB.Min.X + x*srcB.Dx()/dstW
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}

func ceilDivInt(a, b int) int {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
