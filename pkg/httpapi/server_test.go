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

package httpapi

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mediaforge/pkg/artifacts"
	"mediaforge/pkg/videoref"
)

type fakeLookup struct {
	video         videoref.VideoRef
	saveWithMedia bool
}

func (f fakeLookup) Lookup(itemID string) (videoref.VideoRef, bool, bool) {
	if itemID != f.video.ID {
		return videoref.VideoRef{}, false, false
	}
	return f.video, f.saveWithMedia, true
}

type fakePaths struct{ root string }

func (f fakePaths) GetTrickplayDir(video videoref.VideoRef, saveWithMedia bool) string {
	return filepath.Join(f.root, "trickplay")
}

func (f fakePaths) GetIFrameDir(video videoref.VideoRef, saveWithMedia bool) string {
	return filepath.Join(f.root, "iframe")
}

func newTestServer(t *testing.T) (*Server, string, *Authenticator) {
	t.Helper()
	store, err := artifacts.Open(filepath.Join(t.TempDir(), "artifacts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	auth, err := NewAuthenticator("test-key")
	require.NoError(t, err)

	root := t.TempDir()
	lookup := fakeLookup{video: videoref.VideoRef{ID: "item1"}}

	s := NewServer(store, fakePaths{root: root}, lookup, auth, NewProgressHub(), nil)
	return s, root, auth
}

func TestGateRejectsWrongAPIKey(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/Videos/item1/Trickplay/160/tiles.m3u8?ApiKey=wrong", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTrickplayPlaylistServed(t *testing.T) {
	s, _, auth := newTestServer(t)

	require.NoError(t, s.store.UpsertTrickplay(artifacts.TrickplayInfo{
		ItemID: "item1", Width: 160, Height: 90, TileWidth: 10, TileHeight: 10,
		IntervalMs: 10000, ThumbnailCount: 25, Bandwidth: 1000, UpdatedAt: time.Now(),
	}))

	req := httptest.NewRequest(http.MethodGet, "/Videos/item1/Trickplay/160/tiles.m3u8?ApiKey=test-key", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "#EXT-X-TILES")
	require.Contains(t, w.Body.String(), "ApiKey="+auth.Key())
}

func TestTrickplayTileServedFromDisk(t *testing.T) {
	s, root, _ := newTestServer(t)

	require.NoError(t, s.store.UpsertTrickplay(artifacts.TrickplayInfo{
		ItemID: "item1", Width: 160, Height: 90, TileWidth: 10, TileHeight: 10,
		IntervalMs: 10000, ThumbnailCount: 25, Bandwidth: 1000, UpdatedAt: time.Now(),
	}))

	tileDir := filepath.Join(root, "trickplay", "160 - 10x10")
	require.NoError(t, os.MkdirAll(tileDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tileDir, "0.jpg"), []byte("jpegdata"), 0o600))

	req := httptest.NewRequest(http.MethodGet, "/Videos/item1/Trickplay/160/0.jpg?ApiKey=test-key", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "jpegdata", w.Body.String())
}

func TestTrickplayMissingRowIs404(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/Videos/item1/Trickplay/160/tiles.m3u8?ApiKey=test-key", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestIFramePlaylistRewrittenOnServe(t *testing.T) {
	s, root, auth := newTestServer(t)

	require.NoError(t, s.store.UpsertIFramePlaylist(artifacts.IFramePlaylistInfo{
		ItemID: "item1", Width: 284, Height: 160, SegmentCount: 2, Bandwidth: 8000, UpdatedAt: time.Now(),
	}))

	iframeDir := filepath.Join(root, "iframe")
	require.NoError(t, os.MkdirAll(iframeDir, 0o755))
	manifest := "#EXTM3U\n#EXT-X-MAP:URI=\"init.mp4\"\n0.m4s\n#EXT-X-ENDLIST\n"
	require.NoError(t, os.WriteFile(filepath.Join(iframeDir, "iframe.m3u8"), []byte(manifest), 0o600))

	req := httptest.NewRequest(http.MethodGet, "/Videos/item1/IFrame/iframe.m3u8?ApiKey=test-key", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "init.mp4?MediaSourceId=item1&ApiKey="+auth.Key())
	require.Contains(t, w.Body.String(), "0.m4s?MediaSourceId=item1&ApiKey="+auth.Key())
}

func TestIFrameSegmentServedFromDisk(t *testing.T) {
	s, root, _ := newTestServer(t)

	require.NoError(t, s.store.UpsertIFramePlaylist(artifacts.IFramePlaylistInfo{
		ItemID: "item1", Width: 284, Height: 160, SegmentCount: 1, Bandwidth: 8000, UpdatedAt: time.Now(),
	}))

	iframeDir := filepath.Join(root, "iframe")
	require.NoError(t, os.MkdirAll(iframeDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(iframeDir, "init.mp4"), []byte("mp4data"), 0o600))

	req := httptest.NewRequest(http.MethodGet, "/Videos/item1/IFrame/init.mp4?ApiKey=test-key", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "mp4data", w.Body.String())
}

func TestServeArtifactFileRejectsPathTraversal(t *testing.T) {
	s, _, _ := newTestServer(t)

	require.NoError(t, s.store.UpsertIFramePlaylist(artifacts.IFramePlaylistInfo{ItemID: "item1"}))

	req := httptest.NewRequest(http.MethodGet, "/Videos/item1/IFrame/..%2f..%2fetc%2fpasswd?ApiKey=test-key", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)

	require.NotEqual(t, http.StatusOK, w.Code)
}

func TestUnknownItemIs404(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/Videos/missing/Trickplay/160/tiles.m3u8?ApiKey=test-key", nil)
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}
