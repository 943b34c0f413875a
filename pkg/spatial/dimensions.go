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

package spatial

// EffectiveDimensions returns the dimensions of a single eye/view after
// undoing the spatial packing of format: side-by-side formats halve width,
// over-under formats halve height. Formats that pack both eyes into one
// decoded frame need this so trickplay/iframe output isn't built from a
// frame that still contains two eyes side by side.
func EffectiveDimensions(format Format, w, h int) (int, int) {
	switch format {
	case HalfSbs, FullSbs, Stereo180Sbs, Stereo360Sbs:
		return w / 2, h
	case HalfOu, FullOu, Stereo180Ou, Stereo360Ou:
		return w, h / 2
	default:
		return w, h
	}
}
