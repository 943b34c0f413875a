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

// Package videoref defines the opaque video reference shared by the
// trickplay, I-frame playlist and coordinator packages.
package videoref

import (
	"path/filepath"
	"strings"
	"time"

	"mediaforge/pkg/spatial"
)

// Shapes flags a VideoRef as ineligible for artifact generation.
type Shapes struct {
	ISO         bool
	DVD         bool
	BluRay      bool
	Placeholder bool
	Shortcut    bool
	Incomplete  bool
}

// Any reports whether any disallowed shape flag is set.
func (s Shapes) Any() bool {
	return s.ISO || s.DVD || s.BluRay || s.Placeholder || s.Shortcut || s.Incomplete
}

// VideoRef is an opaque, immutable-within-a-refresh handle to one media
// item: its identity, absolute source path, and the facts about it that
// gate artifact generation.
type VideoRef struct {
	ID       string
	Path     string
	Format   spatial.Format
	Width    int
	Height   int
	Duration time.Duration

	HasVideoStream bool
	Shapes         Shapes
}

// EffectiveDimensions returns v's dimensions after undoing spatial
// packing, the canvas size trickplay/I-frame output should actually use.
func (v VideoRef) EffectiveDimensions() (int, int) {
	return spatial.EffectiveDimensions(v.Format, v.Width, v.Height)
}

// IsBackdropClip reports whether path's parent directory is named
// "backdrops" (case-insensitive), the one path-based exclusion shared by
// trickplay and I-frame generation.
func IsBackdropClip(path string) bool {
	dir := filepath.Base(filepath.Dir(path))
	return strings.EqualFold(dir, "backdrops")
}
