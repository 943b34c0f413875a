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

// Package iframeplaylist builds and serves one fixed-height, keyframe-only
// fMP4 HLS playlist per video, used by players for fast scrubbing.
package iframeplaylist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mediaforge/pkg/artifacts"
	"mediaforge/pkg/videoref"
)

// targetHeight is the fixed output height of every I-frame playlist.
const targetHeight = 160

// IFrameRequest describes one generate-iframe-HLS call to a MediaEncoder.
type IFrameRequest struct {
	Path        string
	VideoStream int
	Width       int
	Height      int
}

// MediaEncoder produces an I-frame-only fMP4 HLS rendition. Implemented by
// pkg/mediaenc.
type MediaEncoder interface {
	GenerateIFrameHLS(ctx context.Context, req IFrameRequest) (scratchDir string, err error)
}

// PathManager resolves the on-disk I-frame playlist directory for a video.
type PathManager interface {
	GetIFrameDir(video videoref.VideoRef, saveWithMedia bool) string
}

// Store is the subset of the artifact store I-frame playlist generation needs.
type Store interface {
	GetIFramePlaylist(itemID string) (artifacts.IFramePlaylistInfo, bool, error)
	UpsertIFramePlaylist(info artifacts.IFramePlaylistInfo) error
}

const manifestName = "iframe.m3u8"

// Build generates (or re-uses) video's I-frame playlist, persisting one
// IFramePlaylistInfo row. Returns early without error if video is
// ineligible, using the same preconditions as trickplay generation.
func Build(
	ctx context.Context,
	video videoref.VideoRef,
	saveWithMedia, replace bool,
	store Store,
	encoder MediaEncoder,
	paths PathManager,
) error {
	if video.Shapes.Any() || !video.HasVideoStream || videoref.IsBackdropClip(video.Path) {
		return nil
	}

	dir := paths.GetIFrameDir(video, saveWithMedia)

	if !replace {
		_, hasRow, err := store.GetIFramePlaylist(video.ID)
		if err != nil {
			return fmt.Errorf("could not read existing iframe playlist row: %w", err)
		}
		if hasRow {
			if _, err := os.Stat(filepath.Join(dir, manifestName)); err == nil {
				return nil
			}
		}
	}

	effW, effH := video.EffectiveDimensions()
	width := effW
	if effH > 0 {
		width = evenFloor(160 * effW / effH)
	}

	scratch, err := encoder.GenerateIFrameHLS(ctx, IFrameRequest{
		Path:   video.Path,
		Width:  width,
		Height: targetHeight,
	})
	if err != nil {
		return fmt.Errorf("could not generate iframe playlist: %w", err)
	}
	defer os.RemoveAll(scratch)

	segmentCount, maxSegmentBytes, err := inspectSegments(scratch)
	if err != nil {
		os.RemoveAll(scratch)
		return err
	}
	if segmentCount == 0 {
		return fmt.Errorf("media encoder produced no iframe segments")
	}

	os.RemoveAll(dir)
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("could not create iframe parent directory: %w", err)
	}
	if err := os.Rename(scratch, dir); err != nil {
		return fmt.Errorf("could not replace iframe directory: %w", err)
	}

	info := artifacts.IFramePlaylistInfo{
		ItemID:       video.ID,
		Width:        width,
		Height:       targetHeight,
		SegmentCount: segmentCount,
		Bandwidth:    int(maxSegmentBytes * 8),
		UpdatedAt:    time.Now(),
	}
	if err := store.UpsertIFramePlaylist(info); err != nil {
		return fmt.Errorf("could not persist iframe playlist info: %w", err)
	}
	return nil
}

func inspectSegments(dir string) (count int, maxBytes int64, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, fmt.Errorf("could not read iframe scratch directory: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".m4s" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return 0, 0, fmt.Errorf("could not stat segment %s: %w", e.Name(), err)
		}
		count++
		if info.Size() > maxBytes {
			maxBytes = info.Size()
		}
	}
	return count, maxBytes, nil
}

func evenFloor(w int) int {
	return 2 * (w / 2)
}
