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

import "mediaforge/pkg/mp4"

// BuildVexu constructs the bytes of a single "vexu" box for format, or an
// empty slice if the format requires no injection.
func BuildVexu(format Format) []byte {
	tree := buildVexuTree(format)
	if tree == nil {
		return nil
	}

	size := tree.Size()
	buf := make([]byte, size)
	pos := 0
	tree.Marshal(buf, &pos)
	return buf
}

func buildVexuTree(format Format) *mp4.Boxes {
	eyes := eyesChild()
	proj, hasProj := projChild(format)
	pack, hasPack := packChild(format)

	switch format {
	case Stereo180Sbs, Stereo180Ou, Stereo360Sbs, Stereo360Ou:
		// eyes + proj + pack
	case Mono360:
		// proj only
		return &mp4.Boxes{
			Box:      &mp4.Vexu{},
			Children: []mp4.Boxes{proj},
		}
	case HalfSbs, FullSbs, HalfOu, FullOu, Mvc:
		// eyes + pack, no proj
		return &mp4.Boxes{
			Box:      &mp4.Vexu{},
			Children: []mp4.Boxes{eyes, pack},
		}
	default:
		return nil
	}

	if !hasProj || !hasPack {
		return nil
	}
	return &mp4.Boxes{
		Box:      &mp4.Vexu{},
		Children: []mp4.Boxes{eyes, proj, pack},
	}
}

func eyesChild() mp4.Boxes {
	stri := mp4.Boxes{Box: &mp4.Stri{StereoMode: mp4.StriBothEyes}}
	hero := mp4.Boxes{Box: &mp4.Hero{HeroEye: mp4.HeroEyeRight}}
	blin := mp4.Boxes{Box: &mp4.Blin{BaselineMicrometres: mp4.HumanInterpupillaryBaselineUm}}
	cams := mp4.Boxes{Box: &mp4.Cams{}, Children: []mp4.Boxes{blin}}
	return mp4.Boxes{
		Box:      &mp4.Eyes{},
		Children: []mp4.Boxes{stri, hero, cams},
	}
}

func projChild(format Format) (mp4.Boxes, bool) {
	var code [4]byte
	switch format {
	case Stereo180Sbs, Stereo180Ou:
		code = mp4.ProjectionHalfEquirectangular
	case Stereo360Sbs, Stereo360Ou, Mono360:
		code = mp4.ProjectionEquirectangular
	default:
		return mp4.Boxes{}, false
	}
	prji := mp4.Boxes{Box: &mp4.Prji{ProjectionType: code}}
	return mp4.Boxes{Box: &mp4.Proj{}, Children: []mp4.Boxes{prji}}, true
}

func packChild(format Format) (mp4.Boxes, bool) {
	var code [4]byte
	switch format {
	case Stereo180Sbs, Stereo360Sbs, HalfSbs, FullSbs, Mvc:
		code = mp4.PackingSideBySide
	case Stereo180Ou, Stereo360Ou, HalfOu, FullOu:
		code = mp4.PackingOverUnder
	default:
		return mp4.Boxes{}, false
	}
	pkin := mp4.Boxes{Box: &mp4.Pkin{PackingType: code}}
	return mp4.Boxes{Box: &mp4.Pack{}, Children: []mp4.Boxes{pkin}}, true
}
