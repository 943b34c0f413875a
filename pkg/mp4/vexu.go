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

// Spatial video metadata (Apple "vexu" / visionOS). See:
// https://developer.apple.com/av-foundation/Stereo-Video-ISOBMFFExtensions.pdf

/*************************** FullBox **************************/

// FullBox is an ISOBMFF FullBox: a box with a version/flags header before
// its payload.
type FullBox struct {
	Version uint8
	Flags   [3]byte
}

// Size returns the marshaled size in bytes.
func (b *FullBox) Size() int {
	return 4
}

// Marshal box to buffer.
func (b *FullBox) Marshal(buf []byte, pos *int) {
	WriteByte(buf, pos, b.Version)
	WriteByte(buf, pos, b.Flags[0])
	WriteByte(buf, pos, b.Flags[1])
	WriteByte(buf, pos, b.Flags[2])
}

/*************************** vexu ****************************/

// Vexu is the container box; empty payload, all content lives in children.
type Vexu struct{}

// Type returns the BoxType.
func (*Vexu) Type() BoxType { return BoxType{'v', 'e', 'x', 'u'} }

// Size returns the marshaled size in bytes.
func (*Vexu) Size() int { return 0 }

// Marshal writes nothing: the box has no payload of its own, only children.
func (*Vexu) Marshal(buf []byte, pos *int) {}

/*************************** eyes ****************************/

// Eyes is the stereo-eyes container box.
type Eyes struct{}

// Type returns the BoxType.
func (*Eyes) Type() BoxType { return BoxType{'e', 'y', 'e', 's'} }

// Size returns the marshaled size in bytes.
func (*Eyes) Size() int { return 0 }

// Marshal writes nothing: the box has no payload of its own, only children.
func (*Eyes) Marshal(buf []byte, pos *int) {}

// StereoMode values for Stri.
const (
	StriBothEyes = 0x03
)

// Stri declares which eye views are present.
type Stri struct {
	FullBox
	StereoMode uint8
}

// Type returns the BoxType.
func (*Stri) Type() BoxType { return BoxType{'s', 't', 'r', 'i'} }

// Size returns the marshaled size in bytes.
func (b *Stri) Size() int { return b.FullBox.Size() + 1 }

// Marshal box to buffer.
func (b *Stri) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	WriteByte(buf, pos, b.StereoMode)
}

// HeroEyeRight marks the right eye as primary.
const HeroEyeRight = 0x01

// Hero declares the primary ("hero") eye.
type Hero struct {
	FullBox
	HeroEye uint8
}

// Type returns the BoxType.
func (*Hero) Type() BoxType { return BoxType{'h', 'e', 'r', 'o'} }

// Size returns the marshaled size in bytes.
func (b *Hero) Size() int { return b.FullBox.Size() + 1 }

// Marshal box to buffer.
func (b *Hero) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	WriteByte(buf, pos, b.HeroEye)
}

// HumanInterpupillaryBaselineUm is the default stereo baseline used when
// none is measured: the approximate human interpupillary distance.
const HumanInterpupillaryBaselineUm = 65000

// Cams is the camera-baseline container box.
type Cams struct{}

// Type returns the BoxType.
func (*Cams) Type() BoxType { return BoxType{'c', 'a', 'm', 's'} }

// Size returns the marshaled size in bytes.
func (*Cams) Size() int { return 0 }

// Marshal writes nothing: the box has no payload of its own, only children.
func (*Cams) Marshal(buf []byte, pos *int) {}

// Blin carries the stereo baseline in micrometres.
type Blin struct {
	FullBox
	BaselineMicrometres uint32
}

// Type returns the BoxType.
func (*Blin) Type() BoxType { return BoxType{'b', 'l', 'i', 'n'} }

// Size returns the marshaled size in bytes.
func (b *Blin) Size() int { return b.FullBox.Size() + 4 }

// Marshal box to buffer.
func (b *Blin) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	WriteUint32(buf, pos, b.BaselineMicrometres)
}

/*************************** proj ****************************/

// Proj is the projection container box.
type Proj struct{}

// Type returns the BoxType.
func (*Proj) Type() BoxType { return BoxType{'p', 'r', 'o', 'j'} }

// Size returns the marshaled size in bytes.
func (*Proj) Size() int { return 0 }

// Marshal writes nothing: the box has no payload of its own, only children.
func (*Proj) Marshal(buf []byte, pos *int) {}

// Projection codes.
var (
	ProjectionHalfEquirectangular = [4]byte{'h', 'e', 'q', 'u'}
	ProjectionEquirectangular     = [4]byte{'e', 'q', 'u', 'i'}
)

// Prji declares the projection kind.
type Prji struct {
	FullBox
	ProjectionType [4]byte
}

// Type returns the BoxType.
func (*Prji) Type() BoxType { return BoxType{'p', 'r', 'j', 'i'} }

// Size returns the marshaled size in bytes.
func (b *Prji) Size() int { return b.FullBox.Size() + 4 }

// Marshal box to buffer.
func (b *Prji) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	Write(buf, pos, b.ProjectionType[:])
}

/*************************** pack ****************************/

// Pack is the frame-packing container box.
type Pack struct{}

// Type returns the BoxType.
func (*Pack) Type() BoxType { return BoxType{'p', 'a', 'c', 'k'} }

// Size returns the marshaled size in bytes.
func (*Pack) Size() int { return 0 }

// Marshal writes nothing: the box has no payload of its own, only children.
func (*Pack) Marshal(buf []byte, pos *int) {}

// Packing codes.
var (
	PackingSideBySide = [4]byte{'s', 'i', 'd', 'e'}
	PackingOverUnder  = [4]byte{'o', 'v', 'e', 'r'}
)

// Pkin declares the frame-packing arrangement.
type Pkin struct {
	FullBox
	PackingType [4]byte
}

// Type returns the BoxType.
func (*Pkin) Type() BoxType { return BoxType{'p', 'k', 'i', 'n'} }

// Size returns the marshaled size in bytes.
func (b *Pkin) Size() int { return b.FullBox.Size() + 4 }

// Marshal box to buffer.
func (b *Pkin) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	Write(buf, pos, b.PackingType[:])
}
