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

package mp4

import "encoding/binary"

// Write writes len(p) bytes.
func Write(buf []byte, pos *int, p []byte) {
	*pos += copy(buf[*pos:], p)
}

// WriteByte writes 1 byte.
func WriteByte(buf []byte, pos *int, b byte) {
	buf[*pos] = b
	*pos++
}

// WriteUint16 writes 16 bits big-endian.
func WriteUint16(buf []byte, pos *int, v uint16) {
	binary.BigEndian.PutUint16(buf[*pos:], v)
	*pos += 2
}

// WriteUint32 writes 32 bits big-endian.
func WriteUint32(buf []byte, pos *int, v uint32) {
	binary.BigEndian.PutUint32(buf[*pos:], v)
	*pos += 4
}
