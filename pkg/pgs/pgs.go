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

// Package pgs decodes a Blu-ray Presentation Graphics Stream (.sup) into a
// lazy sequence of display sets, each an RGBA bitmap with a start/end time.
package pgs

import (
	"io"
	"time"

	"github.com/icza/bitio"
)

// TicksPerSecond is the PTS/DTS tick rate of the PGS wire format (90kHz),
// exposed so consumers can convert a DisplaySet's Start/End back to ticks.
const TicksPerSecond = 90000

const ticksPerSecond = TicksPerSecond

// segment types.
const (
	segPalette            = 0x14
	segObject             = 0x15
	segPresentationComp   = 0x16
	segWindow             = 0x17
	segEndOfDisplaySet    = 0x80
)

const finalDisplaySetDuration = 5 * time.Second

// DisplaySet is one decoded subtitle cue: a bitmap and its on-screen window.
type DisplaySet struct {
	Start  time.Duration
	End    time.Duration
	Width  int
	Height int
	RGBA   []byte // length 4*Width*Height
}

// Decoder lazily parses display sets from a sequential, non-seekable .sup
// stream. It is finite and not restartable.
type Decoder struct {
	br *bitio.Reader

	windowed   bool
	start, end time.Duration

	palette map[uint8]paletteEntry
	objects map[uint16]*objectBuilder

	pending *rawSet
	done    bool
}

type paletteEntry struct {
	y, cr, cb, a uint8
}

type objectBuilder struct {
	width, height int
	rle           []byte
}

type rawSet struct {
	start         time.Duration
	width, height int
	rgba          []byte
}

// New returns a Decoder reading every display set in r.
func New(r io.Reader) *Decoder {
	return &Decoder{
		br:      bitio.NewReader(r),
		palette: make(map[uint8]paletteEntry),
		objects: make(map[uint16]*objectBuilder),
	}
}

// NewWindowed returns a Decoder that only emits display sets whose start
// time falls in [start, end). Used to avoid duplicate cues across adjacent
// HLS segments.
func NewWindowed(r io.Reader, start, end time.Duration) *Decoder {
	d := New(r)
	d.windowed = true
	d.start = start
	d.end = end
	return d
}

// Next returns the next display set, or io.EOF once the stream (and any
// window filter) is exhausted. Truncation mid-segment stops parsing
// silently and surfaces as io.EOF with whatever was already decoded.
func (d *Decoder) Next() (*DisplaySet, error) {
	for {
		raw, ok, err := d.nextRaw()
		if err != nil {
			return nil, err
		}

		var ds *DisplaySet
		if ok {
			prev := d.pending
			d.pending = raw
			if prev == nil {
				continue
			}
			ds = &DisplaySet{Start: prev.start, End: raw.start, Width: prev.width, Height: prev.height, RGBA: prev.rgba}
		} else {
			if d.pending == nil {
				return nil, io.EOF
			}
			prev := d.pending
			d.pending = nil
			ds = &DisplaySet{
				Start: prev.start, End: prev.start + finalDisplaySetDuration,
				Width: prev.width, Height: prev.height, RGBA: prev.rgba,
			}
		}

		if d.inWindow(ds.Start) {
			return ds, nil
		}
		if !ok {
			return nil, io.EOF
		}
	}
}

func (d *Decoder) inWindow(start time.Duration) bool {
	if !d.windowed {
		return true
	}
	return start >= d.start && start < d.end
}

// nextRaw parses segments until one full display set (ended by an
// end-of-display-set segment) has been assembled, or the stream ends.
func (d *Decoder) nextRaw() (*rawSet, bool, error) {
	if d.done {
		return nil, false, nil
	}

	var (
		width, height int
		composedAt    time.Duration
		haveComp      bool
	)

	for {
		hdr, ok, err := d.readHeader()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			d.done = true
			return nil, false, nil
		}

		payload, ok := d.readPayload(hdr.size)
		if !ok {
			d.done = true
			return nil, false, nil
		}

		switch hdr.segType {
		case segPresentationComp:
			w, h, ok := parsePresentationComposition(payload)
			if ok {
				width, height = w, h
				composedAt = ticksToDuration(hdr.pts)
				haveComp = true
			}
		case segPalette:
			parsePalette(payload, d.palette)
		case segObject:
			parseObject(payload, d.objects)
		case segWindow:
			// Window placement isn't modeled; composition size is used as
			// the canvas for the whole display set.
		case segEndOfDisplaySet:
			if !haveComp {
				continue
			}
			rgba := renderDisplaySet(width, height, d.objects, d.palette)
			d.objects = make(map[uint16]*objectBuilder)
			return &rawSet{start: composedAt, width: width, height: height, rgba: rgba}, true, nil
		default:
			// unknown segment types are skipped
		}
	}
}

type segmentHeader struct {
	pts     uint32
	dts     uint32
	segType uint8
	size    uint16
}

func (d *Decoder) readHeader() (segmentHeader, bool, error) {
	magic, err := d.br.ReadBits(16)
	if err != nil {
		return segmentHeader{}, false, nil //nolint:nilerr // truncated stream ends silently
	}
	if uint16(magic) != 0x5047 { // "PG"
		return segmentHeader{}, false, nil
	}

	pts, err := d.br.ReadBits(32)
	if err != nil {
		return segmentHeader{}, false, nil //nolint:nilerr
	}
	dts, err := d.br.ReadBits(32)
	if err != nil {
		return segmentHeader{}, false, nil //nolint:nilerr
	}
	segType, err := d.br.ReadBits(8)
	if err != nil {
		return segmentHeader{}, false, nil //nolint:nilerr
	}
	size, err := d.br.ReadBits(16)
	if err != nil {
		return segmentHeader{}, false, nil //nolint:nilerr
	}

	return segmentHeader{
		pts:     uint32(pts),
		dts:     uint32(dts),
		segType: uint8(segType),
		size:    uint16(size),
	}, true, nil
}

func (d *Decoder) readPayload(size uint16) ([]byte, bool) {
	buf := make([]byte, size)
	for i := range buf {
		b, err := d.br.ReadBits(8)
		if err != nil {
			return nil, false
		}
		buf[i] = byte(b)
	}
	return buf, true
}

func ticksToDuration(ticks uint32) time.Duration {
	return time.Duration(ticks) * time.Second / ticksPerSecond
}
