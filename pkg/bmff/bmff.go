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

// Package bmff operates on raw ISO base media file format byte buffers:
// locating, sizing and rewriting boxes without decoding their payloads.
package bmff

import (
	"encoding/binary"
	"errors"
)

// Type is a 4-byte box type identifier.
type Type [4]byte

func (t Type) String() string {
	return string(t[:])
}

// Box types this package's callers need to find or rewrite by name.
var (
	TypeMoov = Type{'m', 'o', 'o', 'v'}
	TypeTrak = Type{'t', 'r', 'a', 'k'}
	TypeMdia = Type{'m', 'd', 'i', 'a'}
	TypeMinf = Type{'m', 'i', 'n', 'f'}
	TypeStbl = Type{'s', 't', 'b', 'l'}
	TypeStsd = Type{'s', 't', 's', 'd'}
	TypeHvc1 = Type{'h', 'v', 'c', '1'}
	TypeDvh1 = Type{'d', 'v', 'h', '1'}
	TypeSv3d = Type{'s', 'v', '3', 'd'}
	TypeSt3d = Type{'s', 't', '3', 'd'}
	TypeVexu = Type{'v', 'e', 'x', 'u'}
)

// literal byte sequences rename operates on; not box types proper since
// "dvwC"/"dvcC" are searched for textually rather than walked as a tree.
var (
	litDvwC = [4]byte{'d', 'v', 'w', 'C'}
	litDvcC = [4]byte{'d', 'v', 'c', 'C'}
)

// ErrMalformedBox is returned when a box header is invalid or out of bounds.
var ErrMalformedBox = errors.New("malformed box")

const headerSize = 8 // u32 size + 4-byte type

// GetBoxSize reads the u32 size field of the box at pos.
func GetBoxSize(buf []byte, pos int) (uint32, error) {
	if pos < 0 || pos+4 > len(buf) {
		return 0, ErrMalformedBox
	}
	return binary.BigEndian.Uint32(buf[pos : pos+4]), nil
}

// SetBoxSize overwrites the u32 size field of the box at pos.
func SetBoxSize(buf []byte, pos int, newSize uint32) error {
	if pos < 0 || pos+4 > len(buf) {
		return ErrMalformedBox
	}
	binary.BigEndian.PutUint32(buf[pos:pos+4], newSize)
	return nil
}

func boxType(buf []byte, pos int) (Type, error) {
	if pos+headerSize > len(buf) {
		return Type{}, ErrMalformedBox
	}
	var t Type
	copy(t[:], buf[pos+4:pos+8])
	return t, nil
}

// FindBox walks boxes from start, advancing by each box's declared size,
// and returns the offset of the first child box of typ, bounded by end.
// Returns -1 if none is found before end.
func FindBox(buf []byte, start int, end int, typ Type) (int, error) {
	if end > len(buf) {
		end = len(buf)
	}
	pos := start
	for pos+headerSize <= end {
		size, err := GetBoxSize(buf, pos)
		if err != nil {
			return -1, err
		}
		if size < headerSize {
			return -1, ErrMalformedBox
		}
		t, err := boxType(buf, pos)
		if err != nil {
			return -1, err
		}
		if t == typ {
			return pos, nil
		}
		if pos+int(size) > end {
			return -1, ErrMalformedBox
		}
		pos += int(size)
	}
	return -1, nil
}

// ScanBox scans every byte offset in buf looking for a box whose type
// matches typ and whose preceding 4 bytes form a size that keeps the box
// in bounds. Used when the buffer isn't known to start on a box boundary.
func ScanBox(buf []byte, typ Type) (int, error) {
	for i := 0; i+headerSize <= len(buf); i++ {
		if buf[i+4] != typ[0] || buf[i+5] != typ[1] || buf[i+6] != typ[2] || buf[i+7] != typ[3] {
			continue
		}
		size := binary.BigEndian.Uint32(buf[i : i+4])
		if size < headerSize || i+int(size) > len(buf) {
			continue
		}
		return i, nil
	}
	return -1, nil
}

// StripBox returns a fresh buffer with the box at [pos, pos+size) removed.
// The caller is responsible for updating ancestor box sizes.
func StripBox(buf []byte, pos int, size int) ([]byte, error) {
	if pos < 0 || size < 0 || pos+size > len(buf) {
		return nil, ErrMalformedBox
	}
	out := make([]byte, 0, len(buf)-size)
	out = append(out, buf[:pos]...)
	out = append(out, buf[pos+size:]...)
	return out, nil
}

// Insert returns a fresh buffer with bytes inserted at pos.
func Insert(buf []byte, pos int, bytes []byte) ([]byte, error) {
	if pos < 0 || pos > len(buf) {
		return nil, ErrMalformedBox
	}
	out := make([]byte, 0, len(buf)+len(bytes))
	out = append(out, buf[:pos]...)
	out = append(out, bytes...)
	out = append(out, buf[pos:]...)
	return out, nil
}

// RenameDvwcToDvcc replaces the first occurrence of the literal "dvwC"
// with "dvcC" in place, for Vision Pro compatibility. Returns true if a
// replacement was made.
func RenameDvwcToDvcc(buf []byte) bool {
	for i := 0; i+4 <= len(buf); i++ {
		if buf[i] == litDvwC[0] && buf[i+1] == litDvwC[1] &&
			buf[i+2] == litDvwC[2] && buf[i+3] == litDvwC[3] {
			copy(buf[i:i+4], litDvcC[:])
			return true
		}
	}
	return false
}
