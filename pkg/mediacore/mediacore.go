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

// Package mediacore orchestrates trickplay and I-frame playlist refresh
// for one video: resolving the artifact root, rebuilding or wiping tiles,
// and invoking I-frame generation. Only the trickplay tile build runs
// under the process-wide trickplay lock.
package mediacore

import (
	"context"
	"fmt"
	"os"
	"sync"

	"mediaforge/pkg/artifacts"
	"mediaforge/pkg/iframeplaylist"
	"mediaforge/pkg/log"
	"mediaforge/pkg/trickplay"
	"mediaforge/pkg/videoref"
)

// LibraryOptions are the per-library feature toggles and trickplay
// parameters the coordinator reads at the start of every refresh.
type LibraryOptions struct {
	SaveWithMedia                   bool
	EnableTrickplayImageExtraction  bool
	DisableIFramePlaylistGeneration bool
	Trickplay                       trickplay.Options
}

// PathManager resolves both artifact roots for a video.
type PathManager interface {
	trickplay.PathManager
	iframeplaylist.PathManager
}

// Stage identifies a point in Refresh a RefreshHook may observe.
type Stage int

// Refresh stages, in the order they occur.
const (
	StageStarted Stage = iota
	StageRootMoved
	StageWidthDone
	StageTrickplayDone
	StageIFrameDone
	StageFinished
)

// RefreshHook observes refresh progress; used to drive a progress
// websocket. detail is a width for StageWidthDone, empty otherwise.
type RefreshHook func(video videoref.VideoRef, stage Stage, detail string)

// Manager coordinates trickplay and I-frame playlist refresh across
// videos. One process-wide mutex serialises the heavy per-width media
// encoder work across every concurrent refresh.
type Manager struct {
	store    *artifacts.Store
	thumbs   trickplay.MediaEncoder
	images   trickplay.ImageEncoder
	iframe   iframeplaylist.MediaEncoder
	paths    PathManager
	logger   *log.Logger
	hook     RefreshHook

	mu sync.Mutex // single-flight lock for trickplay generation
}

// NewManager returns a Manager. hook may be nil.
func NewManager(
	store *artifacts.Store,
	thumbs trickplay.MediaEncoder,
	images trickplay.ImageEncoder,
	iframe iframeplaylist.MediaEncoder,
	paths PathManager,
	logger *log.Logger,
	hook RefreshHook,
) *Manager {
	return &Manager{
		store:  store,
		thumbs: thumbs,
		images: images,
		iframe: iframe,
		paths:  paths,
		logger: logger,
		hook:   hook,
	}
}

// Refresh runs the full refresh algorithm for video: move the artifact
// root if SaveWithMedia changed since previousSaveWithMedia, wipe and stop
// if trickplay is disabled, otherwise (re)build every configured width
// under the single-flight lock and, unless disabled, regenerate the
// I-frame playlist.
func (m *Manager) Refresh(
	ctx context.Context,
	video videoref.VideoRef,
	opts LibraryOptions,
	previousSaveWithMedia bool,
	replace bool,
) error {
	m.emit(video, StageStarted, "")

	if opts.SaveWithMedia != previousSaveWithMedia {
		if err := m.moveRoots(video, previousSaveWithMedia, opts.SaveWithMedia); err != nil {
			return fmt.Errorf("could not move artifact roots: %w", err)
		}
		m.emit(video, StageRootMoved, "")
	}

	if !opts.EnableTrickplayImageExtraction || replace {
		if err := m.wipeTrickplay(video, opts.SaveWithMedia); err != nil {
			return fmt.Errorf("could not wipe trickplay artifacts: %w", err)
		}
		if !opts.EnableTrickplayImageExtraction {
			m.emit(video, StageFinished, "")
			return nil
		}
	}

	if opts.EnableTrickplayImageExtraction {
		if err := m.buildTrickplay(ctx, video, opts); err != nil {
			return err
		}
	}
	m.emit(video, StageTrickplayDone, "")

	if !opts.DisableIFramePlaylistGeneration {
		err := iframeplaylist.Build(ctx, video, opts.SaveWithMedia, replace, m.store, m.iframe, m.paths)
		if err != nil {
			logError(m.logger, "iframe playlist for %s: %v", video.ID, err)
		}
		m.emit(video, StageIFrameDone, "")
	}

	m.emit(video, StageFinished, "")
	return nil
}

// buildTrickplay builds every configured width in a single trickplay.Build
// call, so its one prune pass sees the complete kept-set: pruning per width
// would delete every other width's directory as "stale" on each subsequent
// call, since trickplay.Build only knows about the widths it was given.
func (m *Manager) buildTrickplay(ctx context.Context, video videoref.VideoRef, opts LibraryOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	widthOpts := opts.Trickplay
	widthOpts.SaveWithMedia = opts.SaveWithMedia

	if err := trickplay.Build(ctx, video, widthOpts, m.store, m.thumbs, m.images, m.paths, m.logger); err != nil {
		logError(m.logger, "trickplay for %s: %v", video.ID, err)
	}
	for _, width := range opts.Trickplay.Widths {
		m.emit(video, StageWidthDone, fmt.Sprint(width))
	}
	return nil
}

func (m *Manager) moveRoots(video videoref.VideoRef, fromSaveWithMedia, toSaveWithMedia bool) error {
	oldRoot := m.paths.GetTrickplayDir(video, fromSaveWithMedia)
	newRoot := m.paths.GetTrickplayDir(video, toSaveWithMedia)
	if err := moveIfExists(oldRoot, newRoot); err != nil {
		return err
	}

	oldIframe := m.paths.GetIFrameDir(video, fromSaveWithMedia)
	newIframe := m.paths.GetIFrameDir(video, toSaveWithMedia)
	return moveIfExists(oldIframe, newIframe)
}

func moveIfExists(from, to string) error {
	if _, err := os.Stat(from); err != nil {
		return nil
	}
	os.RemoveAll(to)
	return os.Rename(from, to)
}

func (m *Manager) wipeTrickplay(video videoref.VideoRef, saveWithMedia bool) error {
	root := m.paths.GetTrickplayDir(video, saveWithMedia)
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("could not remove %s: %w", root, err)
	}
	return m.store.DeleteTrickplayByItem(video.ID)
}

func (m *Manager) emit(video videoref.VideoRef, stage Stage, detail string) {
	if m.hook != nil {
		m.hook(video, stage, detail)
	}
}

func logError(logger *log.Logger, format string, args ...interface{}) {
	if logger == nil {
		return
	}
	logger.Error().Src("mediacore").Msgf(format, args...)
}
