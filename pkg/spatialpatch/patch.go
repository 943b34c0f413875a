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

// Package spatialpatch injects "vexu" spatial-video metadata into the HEVC
// sample entry of an fMP4 initialization segment.
package spatialpatch

import (
	"bytes"
	"fmt"

	"mediaforge/pkg/bmff"
	"mediaforge/pkg/spatial"
)

// ErrMalformedBox is returned, alongside the unmodified buffer, when the
// expected moov/trak/mdia/minf/stbl/stsd/sample-entry path can't be found.
var ErrMalformedBox = bmff.ErrMalformedBox

// fixed size of a VisualSampleEntry's payload before any child boxes
// (reserved, data_reference_index, predefined/reserved fields, width,
// height, resolutions, frame_count, compressorname, depth, predefined).
const visualSampleEntryHeaderSize = 78

// stsd's FullBox version/flags (4 bytes) plus entry_count (4 bytes).
const stsdFixedPayloadSize = 8

// Patch injects format's vexu box into buf's HEVC sample entry, returning a
// new buffer. On any failure the original buf is returned unchanged
// alongside the error; callers should treat that as non-fatal.
func Patch(buf []byte, format spatial.Format) ([]byte, error) {
	if !bytes.Contains(buf, []byte("hvc1")) && !bytes.Contains(buf, []byte("dvh1")) {
		return buf, nil
	}

	vexu := spatial.BuildVexu(format)
	if len(vexu) == 0 {
		return buf, nil
	}

	moovPos, err := findMoov(buf)
	if err != nil {
		return buf, err
	}
	trakPos, err := firstChild(buf, moovPos, bmff.TypeTrak)
	if err != nil {
		return buf, err
	}
	mdiaPos, err := firstChild(buf, trakPos, bmff.TypeMdia)
	if err != nil {
		return buf, err
	}
	minfPos, err := firstChild(buf, mdiaPos, bmff.TypeMinf)
	if err != nil {
		return buf, err
	}
	stblPos, err := firstChild(buf, minfPos, bmff.TypeStbl)
	if err != nil {
		return buf, err
	}
	stsdPos, err := firstChild(buf, stblPos, bmff.TypeStsd)
	if err != nil {
		return buf, err
	}

	stsdSize, err := bmff.GetBoxSize(buf, stsdPos)
	if err != nil {
		return buf, err
	}
	sampleEntriesStart := stsdPos + 8 + stsdFixedPayloadSize
	sampleEntriesEnd := stsdPos + int(stsdSize)

	sampleEntryPos, err := findSampleEntry(buf, sampleEntriesStart, sampleEntriesEnd)
	if err != nil {
		return buf, err
	}
	sampleEntrySize, err := bmff.GetBoxSize(buf, sampleEntryPos)
	if err != nil {
		return buf, err
	}
	sampleEntryEnd := sampleEntryPos + int(sampleEntrySize)
	childrenStart := sampleEntryPos + 8 + visualSampleEntryHeaderSize
	if childrenStart > sampleEntryEnd {
		return buf, fmt.Errorf("%w: sample entry too small", ErrMalformedBox)
	}

	out := append([]byte(nil), buf...)
	removed := 0
	for _, t := range []bmff.Type{bmff.TypeSv3d, bmff.TypeSt3d, bmff.TypeVexu} {
		for {
			pos, err := bmff.FindBox(out, childrenStart, sampleEntryEnd-removed, t)
			if err != nil {
				return buf, err
			}
			if pos < 0 {
				break
			}
			size, err := bmff.GetBoxSize(out, pos)
			if err != nil {
				return buf, err
			}
			out, err = bmff.StripBox(out, pos, int(size))
			if err != nil {
				return buf, err
			}
			removed += int(size)
		}
	}

	insertPos := sampleEntryEnd - removed
	out, err = bmff.Insert(out, insertPos, vexu)
	if err != nil {
		return buf, err
	}

	bmff.RenameDvwcToDvcc(out)

	delta := len(vexu) - removed
	for _, pos := range []int{sampleEntryPos, stsdPos, stblPos, minfPos, mdiaPos, trakPos, moovPos} {
		size, err := bmff.GetBoxSize(out, pos)
		if err != nil {
			return buf, err
		}
		if err := bmff.SetBoxSize(out, pos, uint32(int(size)+delta)); err != nil {
			return buf, err
		}
	}

	return out, nil
}

// Strip removes vexu, sv3d and st3d children from buf's HEVC sample entry
// without inserting anything, updating ancestor box sizes to match. Used by
// tests to assert that Patch only ever adds/replaces the vexu box.
func Strip(buf []byte) ([]byte, error) {
	moovPos, err := findMoov(buf)
	if err != nil {
		return buf, err
	}
	trakPos, err := firstChild(buf, moovPos, bmff.TypeTrak)
	if err != nil {
		return buf, err
	}
	mdiaPos, err := firstChild(buf, trakPos, bmff.TypeMdia)
	if err != nil {
		return buf, err
	}
	minfPos, err := firstChild(buf, mdiaPos, bmff.TypeMinf)
	if err != nil {
		return buf, err
	}
	stblPos, err := firstChild(buf, minfPos, bmff.TypeStbl)
	if err != nil {
		return buf, err
	}
	stsdPos, err := firstChild(buf, stblPos, bmff.TypeStsd)
	if err != nil {
		return buf, err
	}
	stsdSize, err := bmff.GetBoxSize(buf, stsdPos)
	if err != nil {
		return buf, err
	}
	sampleEntriesStart := stsdPos + 8 + stsdFixedPayloadSize
	sampleEntriesEnd := stsdPos + int(stsdSize)

	sampleEntryPos, err := findSampleEntry(buf, sampleEntriesStart, sampleEntriesEnd)
	if err != nil {
		return buf, err
	}
	sampleEntrySize, err := bmff.GetBoxSize(buf, sampleEntryPos)
	if err != nil {
		return buf, err
	}
	sampleEntryEnd := sampleEntryPos + int(sampleEntrySize)
	childrenStart := sampleEntryPos + 8 + visualSampleEntryHeaderSize

	out := append([]byte(nil), buf...)
	removed := 0
	for _, t := range []bmff.Type{bmff.TypeSv3d, bmff.TypeSt3d, bmff.TypeVexu} {
		for {
			pos, err := bmff.FindBox(out, childrenStart, sampleEntryEnd-removed, t)
			if err != nil {
				return buf, err
			}
			if pos < 0 {
				break
			}
			size, err := bmff.GetBoxSize(out, pos)
			if err != nil {
				return buf, err
			}
			out, err = bmff.StripBox(out, pos, int(size))
			if err != nil {
				return buf, err
			}
			removed += int(size)
		}
	}

	delta := -removed
	for _, pos := range []int{sampleEntryPos, stsdPos, stblPos, minfPos, mdiaPos, trakPos, moovPos} {
		size, err := bmff.GetBoxSize(out, pos)
		if err != nil {
			return buf, err
		}
		if err := bmff.SetBoxSize(out, pos, uint32(int(size)+delta)); err != nil {
			return buf, err
		}
	}
	return out, nil
}

func findMoov(buf []byte) (int, error) {
	pos, err := bmff.FindBox(buf, 0, len(buf), bmff.TypeMoov)
	if err == nil && pos >= 0 {
		return pos, nil
	}
	pos, err = bmff.ScanBox(buf, bmff.TypeMoov)
	if err != nil {
		return -1, err
	}
	if pos < 0 {
		return -1, fmt.Errorf("%w: moov not found", ErrMalformedBox)
	}
	return pos, nil
}

func firstChild(buf []byte, parentPos int, typ bmff.Type) (int, error) {
	size, err := bmff.GetBoxSize(buf, parentPos)
	if err != nil {
		return -1, err
	}
	pos, err := bmff.FindBox(buf, parentPos+8, parentPos+int(size), typ)
	if err != nil {
		return -1, err
	}
	if pos < 0 {
		return -1, fmt.Errorf("%w: %v not found under parent at %d", ErrMalformedBox, typ, parentPos)
	}
	return pos, nil
}

func findSampleEntry(buf []byte, start, end int) (int, error) {
	pos, err := bmff.FindBox(buf, start, end, bmff.TypeHvc1)
	if err != nil {
		return -1, err
	}
	if pos >= 0 {
		return pos, nil
	}
	pos, err = bmff.FindBox(buf, start, end, bmff.TypeDvh1)
	if err != nil {
		return -1, err
	}
	if pos < 0 {
		return -1, fmt.Errorf("%w: no HEVC sample entry found", ErrMalformedBox)
	}
	return pos, nil
}
