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

// Package httpapi serves the generated trickplay and I-frame playlist
// artifacts and streams refresh progress over a websocket.
package httpapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"mediaforge/pkg/artifacts"
	"mediaforge/pkg/iframeplaylist"
	"mediaforge/pkg/log"
	"mediaforge/pkg/trickplay"
	"mediaforge/pkg/videoref"
)

// VideoLookup resolves an itemId from the URL to the VideoRef and
// save-with-media setting needed to locate its artifact roots. The
// registry backing this is outside this package's scope.
type VideoLookup interface {
	Lookup(itemID string) (video videoref.VideoRef, saveWithMedia bool, ok bool)
}

// PathManager resolves both artifact roots for a video.
type PathManager interface {
	GetTrickplayDir(video videoref.VideoRef, saveWithMedia bool) string
	GetIFrameDir(video videoref.VideoRef, saveWithMedia bool) string
}

// Server serves the artifact routes.
type Server struct {
	store  *artifacts.Store
	paths  PathManager
	videos VideoLookup
	auth   *Authenticator
	hub    *ProgressHub
	logger *log.Logger
}

// NewServer returns a Server.
func NewServer(
	store *artifacts.Store,
	paths PathManager,
	videos VideoLookup,
	auth *Authenticator,
	hub *ProgressHub,
	logger *log.Logger,
) *Server {
	return &Server{store: store, paths: paths, videos: videos, auth: auth, hub: hub, logger: logger}
}

// Mux returns the registered route set, gated by the API key.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/Videos/", http.HandlerFunc(s.routeVideos))
	return s.auth.Gate(mux)
}

// routeVideos dispatches "/Videos/{itemId}/..." requests by shape,
// mirroring the teacher's hand-parsed path style (no router dependency
// in the retrieved pack covers path-parameter routing).
func (s *Server) routeVideos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
		return
	}

	segments := strings.Split(strings.TrimPrefix(r.URL.Path, "/Videos/"), "/")
	if len(segments) < 2 {
		http.NotFound(w, r)
		return
	}
	itemID, kind, rest := segments[0], segments[1], segments[2:]

	switch kind {
	case "Trickplay":
		s.handleTrickplay(w, r, itemID, rest)
	case "IFrame":
		s.handleIFrame(w, r, itemID, rest)
	case "Progress":
		s.handleProgress(w, r, itemID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleTrickplay(w http.ResponseWriter, r *http.Request, itemID string, rest []string) {
	if len(rest) != 2 {
		http.NotFound(w, r)
		return
	}
	width, err := strconv.Atoi(rest[0])
	if err != nil {
		http.Error(w, "invalid width", http.StatusBadRequest)
		return
	}

	video, saveWithMedia, ok := s.videos.Lookup(itemID)
	if !ok {
		http.NotFound(w, r)
		return
	}

	row, hasRow, err := s.store.GetTrickplay(itemID, width)
	if err != nil {
		http.Error(w, "could not read trickplay info", http.StatusInternalServerError)
		return
	}
	if !hasRow {
		http.NotFound(w, r)
		return
	}

	if rest[1] == "tiles.m3u8" {
		mediaSourceID := strings.ReplaceAll(itemID, "-", "")
		manifest := trickplay.Playlist(row, mediaSourceID, s.auth.Key())
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Write([]byte(manifest)) //nolint:errcheck
		return
	}

	dir := s.paths.GetTrickplayDir(video, saveWithMedia)
	tileDir := trickplay.TileDirName(row.Width, row.TileWidth, row.TileHeight)
	serveArtifactFile(w, r, dir, tileDir, rest[1])
}

func (s *Server) handleIFrame(w http.ResponseWriter, r *http.Request, itemID string, rest []string) {
	if len(rest) != 1 {
		http.NotFound(w, r)
		return
	}

	video, saveWithMedia, ok := s.videos.Lookup(itemID)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if _, hasRow, err := s.store.GetIFramePlaylist(itemID); err != nil {
		http.Error(w, "could not read iframe playlist info", http.StatusInternalServerError)
		return
	} else if !hasRow {
		http.NotFound(w, r)
		return
	}

	dir := s.paths.GetIFrameDir(video, saveWithMedia)

	if rest[0] == "iframe.m3u8" {
		body, err := os.ReadFile(dir + "/iframe.m3u8")
		if err != nil {
			http.NotFound(w, r)
			return
		}
		mediaSourceID := strings.ReplaceAll(itemID, "-", "")
		rewritten := iframeplaylist.RewriteForServing(string(body), mediaSourceID, s.auth.Key())
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Write([]byte(rewritten)) //nolint:errcheck
		return
	}

	serveArtifactFile(w, r, dir, "", rest[0])
}

func serveArtifactFile(w http.ResponseWriter, r *http.Request, dir, subDir, fileName string) {
	if strings.Contains(fileName, "..") || strings.ContainsAny(fileName, "/\\") {
		http.Error(w, "invalid file name", http.StatusBadRequest)
		return
	}
	path := dir
	if subDir != "" {
		path += "/" + subDir
	}
	path += "/" + fileName

	http.ServeFile(w, r, path)
}

var wsUpgrader = websocket.Upgrader{}

// handleProgress upgrades to a websocket and streams refresh progress
// for itemID as newline-delimited JSON until the refresh completes or
// the connection is closed, grounded on pkg/web/routes.go's Logs handler.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request, itemID string) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer conn.Close()

	events, cancel := s.hub.Subscribe(itemID)
	defer cancel()

	for event := range events {
		if err := conn.WriteJSON(event); err != nil {
			return
		}
		if event.Done {
			return
		}
	}
}
