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

package bmff

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func box(typ Type, payload []byte) []byte {
	buf := make([]byte, 8+len(payload))
	size := uint32(8 + len(payload))
	buf[0] = byte(size >> 24)
	buf[1] = byte(size >> 16)
	buf[2] = byte(size >> 8)
	buf[3] = byte(size)
	copy(buf[4:8], typ[:])
	copy(buf[8:], payload)
	return buf
}

func TestFindBox(t *testing.T) {
	free := box(Type{'f', 'r', 'e', 'e'}, []byte{1, 2, 3})
	moov := box(TypeMoov, []byte{9, 9})
	buf := append(append([]byte{}, free...), moov...)

	pos, err := FindBox(buf, 0, len(buf), TypeMoov)
	require.NoError(t, err)
	require.Equal(t, len(free), pos)

	pos, err = FindBox(buf, 0, len(buf), Type{'n', 'o', 'p', 'e'})
	require.NoError(t, err)
	require.Equal(t, -1, pos)
}

func TestFindBoxMalformed(t *testing.T) {
	buf := []byte{0, 0, 0, 3, 'm', 'o', 'o', 'v'} // size < 8
	_, err := FindBox(buf, 0, len(buf), TypeMoov)
	require.ErrorIs(t, err, ErrMalformedBox)
}

func TestScanBoxNotBoxAligned(t *testing.T) {
	moov := box(TypeMoov, []byte{1, 2, 3, 4})
	// Prefix with junk that isn't itself a valid box.
	buf := append([]byte{0xff, 0xff, 0xff}, moov...)

	pos, err := ScanBox(buf, TypeMoov)
	require.NoError(t, err)
	require.Equal(t, 3, pos)
}

func TestStripAndInsert(t *testing.T) {
	a := box(Type{'a', 'a', 'a', 'a'}, []byte{1})
	b := box(Type{'b', 'b', 'b', 'b'}, []byte{2})
	buf := append(append([]byte{}, a...), b...)

	stripped, err := StripBox(buf, 0, len(a))
	require.NoError(t, err)
	require.Equal(t, b, stripped)

	reinserted, err := Insert(stripped, 0, a)
	require.NoError(t, err)
	require.Equal(t, buf, reinserted)
}

func TestGetSetBoxSize(t *testing.T) {
	buf := box(Type{'a', 'a', 'a', 'a'}, []byte{1, 2})
	size, err := GetBoxSize(buf, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(10), size)

	require.NoError(t, SetBoxSize(buf, 0, 20))
	size, err = GetBoxSize(buf, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(20), size)
}

func TestRenameDvwcToDvcc(t *testing.T) {
	buf := []byte("xx dvwC yy")
	require.True(t, RenameDvwcToDvcc(buf))
	require.Equal(t, "xx dvcC yy", string(buf))

	require.False(t, RenameDvwcToDvcc([]byte("no match here")))
}
