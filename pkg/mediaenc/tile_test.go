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

package mediaenc

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mediaforge/pkg/trickplay"
)

func writeSolidJPEG(t *testing.T, path string, w, h int, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, img, &jpeg.Options{Quality: 90}))
}

func TestComposeTileResizesToRequestedWidthAndGridsByTileSize(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 5; i++ {
		p := filepath.Join(dir, string(rune('a'+i))+".jpg")
		writeSolidJPEG(t, p, 16, 9, color.White) // 16x9 source, 16:9 aspect
		paths = append(paths, p)
	}

	e := &Encoder{}
	out := filepath.Join(dir, "0.jpg")
	height, err := e.ComposeTile(trickplay.ComposeTileOptions{
		OutputPath: out,
		InputPaths: paths,
		TileWidth:  3,
		TileHeight: 3,
	}, 85, 32) // request each thumbnail resized to 32px wide
	require.NoError(t, err)
	// 32 wide at 16:9 -> 18 tall; per-thumbnail height, not grid height.
	require.Equal(t, 18, height)

	w, h, err := e.GetSize(out)
	require.NoError(t, err)
	require.Equal(t, 96, w) // 3 cols * 32px thumbnail width
	require.Equal(t, 36, h) // ceil(5/3)=2 rows * 18px thumbnail height
}

func TestComposeTileHonoursFixedHeightOnLaterTiles(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.jpg")
	writeSolidJPEG(t, p, 16, 9, color.White)

	e := &Encoder{}
	out := filepath.Join(dir, "1.jpg")
	height, err := e.ComposeTile(trickplay.ComposeTileOptions{
		OutputPath:  out,
		InputPaths:  []string{p},
		TileWidth:   3,
		TileHeight:  3,
		FixedHeight: 50, // a different encoder may have picked this on tile 0
	}, 85, 32)
	require.NoError(t, err)
	require.Equal(t, 50, height)

	_, h, err := e.GetSize(out)
	require.NoError(t, err)
	require.Equal(t, 50, h)
}

func TestComposeTileFailsWithNoInputs(t *testing.T) {
	e := &Encoder{}
	_, err := e.ComposeTile(trickplay.ComposeTileOptions{OutputPath: filepath.Join(t.TempDir(), "x.jpg")}, 85, 48)
	require.Error(t, err)
}

func TestGetSizeReadsHeaderOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jpg")
	writeSolidJPEG(t, path, 64, 32, color.Black)

	e := &Encoder{}
	w, h, err := e.GetSize(path)
	require.NoError(t, err)
	require.Equal(t, 64, w)
	require.Equal(t, 32, h)
}
