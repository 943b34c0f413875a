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

// parsePalette parses a palette definition segment's palette entry list
// (entry_id, Y, Cr, Cb, alpha, 5 bytes each after the 2-byte palette
// header) into dst, keyed by entry id.
func parsePalette(payload []byte, dst map[uint8]paletteEntry) {
	if len(payload) < 2 {
		return
	}
	entries := payload[2:]
	for i := 0; i+5 <= len(entries); i += 5 {
		id := entries[i]
		dst[id] = paletteEntry{
			y:  entries[i+1],
			cr: entries[i+2],
			cb: entries[i+3],
			a:  entries[i+4],
		}
	}
}

// rgba converts a BT.601 YCbCr+alpha palette entry to non-premultiplied
// straight RGBA.
func (p paletteEntry) rgba() (r, g, b, a uint8) {
	y := float64(p.y)
	cr := float64(p.cr) - 128
	cb := float64(p.cb) - 128

	rf := y + 1.402*cr
	gf := y - 0.344136*cb - 0.714136*cr
	bf := y + 1.772*cb

	return clamp8(rf), clamp8(gf), clamp8(bf), p.a
}

func clamp8(v float64) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v)
	}
}
