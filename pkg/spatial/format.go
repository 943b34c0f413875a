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

// Package spatial builds Apple "vexu" spatial-video metadata boxes for each
// supported 3D/360 layout, and patches them into fMP4 HEVC init segments.
package spatial

// Format is the 3D/360 layout of a video source.
type Format int

// Supported spatial formats.
const (
	None Format = iota
	HalfSbs
	FullSbs
	HalfOu
	FullOu
	Mvc
	Stereo180Sbs
	Stereo180Ou
	Stereo360Sbs
	Stereo360Ou
	Mono360
)
