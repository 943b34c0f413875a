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

package pgs

// parsePresentationComposition reads a presentation composition segment's
// video_width/video_height fields. Composition object placement and
// cropping aren't modeled: the whole display set is rendered at this
// composition size, so downstream consumers get one RGBA bitmap per cue
// without needing to reason about window offsets.
func parsePresentationComposition(payload []byte) (width, height int, ok bool) {
	if len(payload) < 4 {
		return 0, 0, false
	}
	width = int(payload[0])<<8 | int(payload[1])
	height = int(payload[2])<<8 | int(payload[3])
	return width, height, true
}

// parseObject reads an object definition segment, appending its RLE data
// (there may be more than one segment per object when the bitmap is large)
// into dst keyed by object_id. Only the first segment of an object carries
// the object_data_length/width/height header (flag bit 0x80 in byte 3);
// every later segment is pure RLE continuation data and is appended as-is.
func parseObject(payload []byte, dst map[uint16]*objectBuilder) {
	if len(payload) < 4 {
		return
	}
	objectID := uint16(payload[0])<<8 | uint16(payload[1])
	// payload[2] = version number, payload[3] = first/last-in-sequence flags
	first := payload[3]&0x80 != 0

	if !first {
		b, ok := dst[objectID]
		if !ok {
			return
		}
		b.rle = append(b.rle, payload[4:]...)
		return
	}

	if len(payload) < 4+3+4 {
		return
	}
	width := int(payload[7])<<8 | int(payload[8])
	height := int(payload[9])<<8 | int(payload[10])
	dst[objectID] = &objectBuilder{width: width, height: height, rle: append([]byte{}, payload[11:]...)}
}

// renderDisplaySet decodes every accumulated object against palette and
// composites them onto a canvasWidth x canvasHeight RGBA buffer. Objects
// are assumed to match the composition canvas (no window/crop offsets);
// when an object's own dimensions differ it's pasted at (0,0) clipped to
// the canvas bounds.
func renderDisplaySet(canvasWidth, canvasHeight int, objects map[uint16]*objectBuilder, palette map[uint8]paletteEntry) []byte {
	rgba := make([]byte, 4*canvasWidth*canvasHeight)

	for _, obj := range objects {
		if obj.width == 0 || obj.height == 0 {
			continue
		}
		indices := decodeRLE(obj.rle, obj.width, obj.height)

		w := obj.width
		if w > canvasWidth {
			w = canvasWidth
		}
		h := obj.height
		if h > canvasHeight {
			h = canvasHeight
		}

		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				idx := indices[y*obj.width+x]
				entry, ok := palette[idx]
				if !ok {
					continue
				}
				r, g, b, a := entry.rgba()
				if a == 0 {
					continue
				}
				off := 4 * (y*canvasWidth + x)
				rgba[off] = r
				rgba[off+1] = g
				rgba[off+2] = b
				rgba[off+3] = a
			}
		}
	}

	return rgba
}
