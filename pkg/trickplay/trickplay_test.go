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

package trickplay

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mediaforge/pkg/artifacts"
	"mediaforge/pkg/videoref"
)

type memStore struct {
	rows map[string]artifacts.TrickplayInfo
}

func newMemStore() *memStore { return &memStore{rows: map[string]artifacts.TrickplayInfo{}} }

func (m *memStore) GetTrickplay(itemID string, width int) (artifacts.TrickplayInfo, bool, error) {
	info, ok := m.rows[rowKey(itemID, width)]
	return info, ok, nil
}

func (m *memStore) UpsertTrickplay(info artifacts.TrickplayInfo) error {
	m.rows[rowKey(info.ItemID, info.Width)] = info
	return nil
}

func (m *memStore) ListTrickplayByItem(itemID string) ([]artifacts.TrickplayInfo, error) {
	var out []artifacts.TrickplayInfo
	for _, v := range m.rows {
		if v.ItemID == itemID {
			out = append(out, v)
		}
	}
	return out, nil
}

func rowKey(itemID string, width int) string {
	return itemID + "#" + itoa(width)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

type fakeEncoder struct {
	scratchDir string
	thumbCount int
	err        error
}

func (f *fakeEncoder) ExtractThumbs(ctx context.Context, req ThumbRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	dir, err := os.MkdirTemp("", "thumbs-*")
	if err != nil {
		return "", err
	}
	for i := 0; i < f.thumbCount; i++ {
		name := filepath.Join(dir, itoa(10000+i)+".jpg")
		if err := os.WriteFile(name, make([]byte, 1000), 0o600); err != nil {
			return "", err
		}
	}
	return dir, nil
}

type fakeImageEncoder struct {
	height int
	sizes  map[string][2]int
}

func (f *fakeImageEncoder) ComposeTile(opts ComposeTileOptions, jpegQuality, width int) (int, error) {
	if err := os.WriteFile(opts.OutputPath, make([]byte, 2000), 0o600); err != nil {
		return 0, err
	}
	return f.height, nil
}

func (f *fakeImageEncoder) GetSize(path string) (int, int, error) {
	s := f.sizes[path]
	return s[0], s[1], nil
}

type fakePathManager struct{ root string }

func (f *fakePathManager) GetTrickplayDir(video videoref.VideoRef, saveWithMedia bool) string {
	return f.root
}

func baseOptions() Options {
	return Options{
		IntervalMs:  10000,
		Widths:      []int{320},
		TileWidth:   10,
		TileHeight:  10,
		JpegQuality: 4,
	}
}

func baseVideo() videoref.VideoRef {
	return videoref.VideoRef{
		ID:             "item1",
		Path:           "/media/movie.mkv",
		HasVideoStream: true,
		Duration:       10 * time.Minute,
	}
}

func TestBuildSkipsIneligibleShape(t *testing.T) {
	store := newMemStore()
	encoder := &fakeEncoder{thumbCount: 5}
	video := baseVideo()
	video.Shapes.ISO = true

	root := t.TempDir()
	err := Build(context.Background(), video, baseOptions(), store, encoder,
		&fakeImageEncoder{height: 180}, &fakePathManager{root: root}, nil)
	require.NoError(t, err)
	require.Empty(t, store.rows)
}

func TestBuildSkipsBackdropClip(t *testing.T) {
	store := newMemStore()
	video := baseVideo()
	video.Path = "/media/movies/foo/backdrops/clip.mkv"

	root := t.TempDir()
	err := Build(context.Background(), video, baseOptions(), store, &fakeEncoder{thumbCount: 5},
		&fakeImageEncoder{height: 180}, &fakePathManager{root: root}, nil)
	require.NoError(t, err)
	require.Empty(t, store.rows)
}

func TestBuildSkipsShortDuration(t *testing.T) {
	store := newMemStore()
	video := baseVideo()
	video.Duration = 500 * time.Millisecond

	root := t.TempDir()
	err := Build(context.Background(), video, baseOptions(), store, &fakeEncoder{thumbCount: 5},
		&fakeImageEncoder{height: 180}, &fakePathManager{root: root}, nil)
	require.NoError(t, err)
	require.Empty(t, store.rows)
}

func TestBuildGeneratesTilesAndPersistsRow(t *testing.T) {
	store := newMemStore()
	root := t.TempDir()
	opts := baseOptions()
	opts.Widths = []int{320}
	encoder := &fakeEncoder{thumbCount: 25}
	images := &fakeImageEncoder{height: 180}

	err := Build(context.Background(), baseVideo(), opts, store, encoder, images, &fakePathManager{root: root}, nil)
	require.NoError(t, err)

	info, ok, err := store.GetTrickplay("item1", 320)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 25, info.ThumbnailCount)
	require.Equal(t, 180, info.Height)
	require.True(t, info.Bandwidth > 0)

	dir := filepath.Join(root, TileDirName(320, 10, 10))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	// ceil(25/100) = 1 tile.
	require.Len(t, entries, 1)
}

func TestBuildImportsExistingTilesWithoutCallingEncoder(t *testing.T) {
	store := newMemStore()
	root := t.TempDir()
	opts := baseOptions()
	dir := filepath.Join(root, TileDirName(320, 10, 10))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	tile := filepath.Join(dir, "0.jpg")
	require.NoError(t, os.WriteFile(tile, make([]byte, 12500), 0o600))

	images := &fakeImageEncoder{sizes: map[string][2]int{tile: {320, 1000}}}
	encoder := &fakeEncoder{err: context.Canceled} // must never be called

	err := Build(context.Background(), baseVideo(), opts, store, encoder, images, &fakePathManager{root: root}, nil)
	require.NoError(t, err)

	info, ok, err := store.GetTrickplay("item1", 320)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, info.ThumbnailCount)
	require.Equal(t, 100, info.Height) // ceil(1000/10)
}

func TestBuildPrunesStaleDirectories(t *testing.T) {
	store := newMemStore()
	root := t.TempDir()
	stale := filepath.Join(root, "640 - 10x10")
	require.NoError(t, os.MkdirAll(stale, 0o755))

	opts := baseOptions()
	opts.Widths = []int{320}
	encoder := &fakeEncoder{thumbCount: 10}
	images := &fakeImageEncoder{height: 180}

	err := Build(context.Background(), baseVideo(), opts, store, encoder, images, &fakePathManager{root: root}, nil)
	require.NoError(t, err)

	_, err = os.Stat(stale)
	require.True(t, os.IsNotExist(err))
}

func TestPlaylistScenario(t *testing.T) {
	info := artifacts.TrickplayInfo{
		Width:          320,
		Height:         180,
		TileWidth:      10,
		TileHeight:     10,
		IntervalMs:     10000,
		ThumbnailCount: 250,
	}

	out := Playlist(info, "deadbeefdeadbeefdeadbeefdeadbeef", "tok3n")

	require.Contains(t, out, "#EXT-X-TARGETDURATION:3\n")
	require.Equal(t, 3, countOccurrences(out, "#EXTINF"))
	require.Contains(t, out, "#EXTINF:500,\n")
	require.Contains(t, out, "2.jpg?MediaSourceId=deadbeefdeadbeefdeadbeefdeadbeef&ApiKey=tok3n\n")
	require.Contains(t, out, "#EXT-X-ENDLIST\n")
}

func countOccurrences(s, substr string) int {
	count := 0
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			count++
		}
	}
	return count
}
