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

// Package trickplay builds and serves scrubbing-preview tile sheets: one
// directory of composited JPEG tiles per configured width, plus an
// HLS "images only" playlist over them.
package trickplay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"mediaforge/pkg/artifacts"
	"mediaforge/pkg/log"
	"mediaforge/pkg/storage"
	"mediaforge/pkg/videoref"
)

// Options configures trickplay generation for a library.
type Options struct {
	IntervalMs    int
	Widths        []int
	TileWidth     int
	TileHeight    int
	JpegQuality   int
	HWAccel       []string
	Threads       int
	Priority      string
	IFramesOnly   bool
	SaveWithMedia bool
	Replace       bool
}

// ThumbRequest describes one extract-thumbnails call to a MediaEncoder.
type ThumbRequest struct {
	Path          string
	VideoStream   int
	Width         int
	IntervalMs    int
	HWAccel       []string
	Threads       int
	Priority      string
	IFramesOnly   bool
}

// MediaEncoder produces interval-spaced JPEG thumbnails for one video.
// Implemented by pkg/mediaenc.
type MediaEncoder interface {
	ExtractThumbs(ctx context.Context, req ThumbRequest) (scratchDir string, err error)
}

// ComposeTileOptions describes one tile composite. FixedHeight is 0 on the
// first call for a given (video, width); the image encoder then reports
// back the per-thumbnail pixel height it used, which callers must pass as
// FixedHeight on every subsequent tile so every sheet for the same
// (video, width) has identically-sized thumbnails.
type ComposeTileOptions struct {
	OutputPath  string
	InputPaths  []string
	TileWidth   int
	TileHeight  int
	FixedHeight int
}

// ImageEncoder composites thumbnail grids and measures JPEG dimensions.
// Implemented by pkg/mediaenc. ComposeTile writes a single JPEG sheet with
// each thumbnail resized to (width, height) and arranged row-major in a
// TileWidth x TileHeight grid, returning the per-thumbnail pixel height.
type ImageEncoder interface {
	ComposeTile(opts ComposeTileOptions, jpegQuality, width int) (height int, err error)
	GetSize(path string) (width, height int, err error)
}

// PathManager resolves the on-disk trickplay directory for a video.
type PathManager interface {
	GetTrickplayDir(video videoref.VideoRef, saveWithMedia bool) string
}

// Store is the subset of the artifact store trickplay generation needs.
type Store interface {
	GetTrickplay(itemID string, width int) (artifacts.TrickplayInfo, bool, error)
	UpsertTrickplay(info artifacts.TrickplayInfo) error
	ListTrickplayByItem(itemID string) ([]artifacts.TrickplayInfo, error)
}

// Build generates (or imports) trickplay tiles for video at every width in
// opts.Widths, persisting one TrickplayInfo row per width, then prunes any
// leftover directory under the video's trickplay root that no row names.
//
// Build returns early without error if video's shape, stream or duration
// make it ineligible; this is not a failure.
func Build(
	ctx context.Context,
	video videoref.VideoRef,
	opts Options,
	store Store,
	encoder MediaEncoder,
	images ImageEncoder,
	paths PathManager,
	logger *log.Logger,
) error {
	if !eligible(video) {
		return nil
	}

	intervalMs := opts.IntervalMs
	if intervalMs < 1000 {
		logError(logger, "trickplay interval %dms below minimum, clamping to 1000ms", intervalMs)
		intervalMs = 1000
	}
	if video.Duration < time.Duration(intervalMs)*time.Millisecond {
		return nil
	}

	root := paths.GetTrickplayDir(video, opts.SaveWithMedia)
	kept := make(map[string]bool)

	for _, width := range opts.Widths {
		dirName := TileDirName(width, opts.TileWidth, opts.TileHeight)
		kept[dirName] = true
		dir := filepath.Join(root, dirName)

		if err := buildWidth(ctx, video, opts, intervalMs, width, dir, store, encoder, images, logger); err != nil {
			logError(logger, "trickplay width %d for %s: %v", width, video.ID, err)
			os.RemoveAll(dir)
			continue
		}
	}

	if err := storage.PruneOrphans(root, kept, logger); err != nil {
		logError(logger, "could not prune stale trickplay directories under %s: %v", root, err)
	}
	return nil
}

func eligible(video videoref.VideoRef) bool {
	if video.Shapes.Any() {
		return false
	}
	if !video.HasVideoStream {
		return false
	}
	if videoref.IsBackdropClip(video.Path) {
		return false
	}
	return true
}

func buildWidth(
	ctx context.Context,
	video videoref.VideoRef,
	opts Options,
	intervalMs int,
	width int,
	dir string,
	store Store,
	encoder MediaEncoder,
	images ImageEncoder,
	logger *log.Logger,
) error {
	actualWidth := evenFloor(width)
	effW, effH := video.EffectiveDimensions()
	if effW > 0 && effW < width {
		actualWidth = evenFloor(effW)
		logError(logger, "effective width %d smaller than requested %d for %s", effW, width, video.ID)
	}
	_ = effH

	_, hasRow, err := store.GetTrickplay(video.ID, width)
	if err != nil {
		return fmt.Errorf("could not read existing trickplay row: %w", err)
	}

	var info artifacts.TrickplayInfo
	if !opts.Replace && !hasRow && hasJPEGs(dir) {
		info, err = importExisting(dir, video.ID, width, opts, intervalMs, images)
		if err != nil {
			return err
		}
	} else {
		info, err = build(ctx, video, opts, intervalMs, width, actualWidth, dir, encoder, images)
		if err != nil {
			return err
		}
	}

	if err := store.UpsertTrickplay(info); err != nil {
		return fmt.Errorf("could not persist trickplay info: %w", err)
	}
	return nil
}

func importExisting(
	dir, itemID string,
	width int,
	opts Options,
	intervalMs int,
	images ImageEncoder,
) (artifacts.TrickplayInfo, error) {
	files, err := jpegsIn(dir)
	if err != nil {
		return artifacts.TrickplayInfo{}, err
	}

	intervalS := float64(intervalMs) / 1000
	var maxHeight, maxBandwidth int

	for _, f := range files {
		_, h, err := images.GetSize(f)
		if err != nil {
			return artifacts.TrickplayInfo{}, fmt.Errorf("could not measure existing tile %s: %w", f, err)
		}
		rows := ceilDiv(h, opts.TileHeight)
		if rows > maxHeight {
			maxHeight = rows
		}

		stat, err := os.Stat(f)
		if err != nil {
			return artifacts.TrickplayInfo{}, fmt.Errorf("could not stat existing tile %s: %w", f, err)
		}
		bandwidth := ceilDiv64(stat.Size()*8, int64(float64(opts.TileWidth*opts.TileHeight)*intervalS))
		if bandwidth > maxBandwidth {
			maxBandwidth = bandwidth
		}
	}

	return artifacts.TrickplayInfo{
		ItemID:         itemID,
		Width:          width,
		Height:         maxHeight,
		TileWidth:      opts.TileWidth,
		TileHeight:     opts.TileHeight,
		IntervalMs:     intervalMs,
		ThumbnailCount: len(files),
		Bandwidth:      maxBandwidth,
		UpdatedAt:      time.Now(),
	}, nil
}

func build(
	ctx context.Context,
	video videoref.VideoRef,
	opts Options,
	intervalMs int,
	width int,
	actualWidth int,
	dir string,
	encoder MediaEncoder,
	images ImageEncoder,
) (artifacts.TrickplayInfo, error) {
	thumbsDir, err := encoder.ExtractThumbs(ctx, ThumbRequest{
		Path:        video.Path,
		Width:       actualWidth,
		IntervalMs:  intervalMs,
		HWAccel:     opts.HWAccel,
		Threads:     opts.Threads,
		Priority:    opts.Priority,
		IFramesOnly: opts.IFramesOnly,
	})
	if err != nil {
		return artifacts.TrickplayInfo{}, fmt.Errorf("could not extract thumbnails: %w", err)
	}
	defer os.RemoveAll(thumbsDir)

	thumbs, err := jpegsIn(thumbsDir)
	if err != nil {
		return artifacts.TrickplayInfo{}, err
	}
	if len(thumbs) == 0 {
		return artifacts.TrickplayInfo{}, fmt.Errorf("media encoder produced no thumbnails")
	}

	perTile := opts.TileWidth * opts.TileHeight
	tileCount := ceilDiv(len(thumbs), perTile)

	scratch, err := os.MkdirTemp(filepath.Dir(dir), "trickplay-scratch-*")
	if err != nil {
		return artifacts.TrickplayInfo{}, fmt.Errorf("could not create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	intervalS := float64(intervalMs) / 1000
	var height, maxBandwidth int

	for k := 0; k < tileCount; k++ {
		start := k * perTile
		end := start + perTile
		if end > len(thumbs) {
			end = len(thumbs)
		}

		outPath := filepath.Join(scratch, fmt.Sprintf("%d.jpg", k))
		h, err := images.ComposeTile(ComposeTileOptions{
			OutputPath:  outPath,
			InputPaths:  thumbs[start:end],
			TileWidth:   opts.TileWidth,
			TileHeight:  opts.TileHeight,
			FixedHeight: height,
		}, opts.JpegQuality, width)
		if err != nil {
			return artifacts.TrickplayInfo{}, fmt.Errorf("could not compose tile %d: %w", k, err)
		}
		if k == 0 {
			height = h
		}

		stat, err := os.Stat(outPath)
		if err != nil {
			return artifacts.TrickplayInfo{}, fmt.Errorf("could not stat tile %d: %w", k, err)
		}
		bandwidth := ceilDiv64(stat.Size()*8, int64(float64(perTile)*intervalS))
		if bandwidth > maxBandwidth {
			maxBandwidth = bandwidth
		}
	}

	os.RemoveAll(dir)
	if err := os.Rename(scratch, dir); err != nil {
		return artifacts.TrickplayInfo{}, fmt.Errorf("could not replace tile directory: %w", err)
	}

	return artifacts.TrickplayInfo{
		ItemID:         video.ID,
		Width:          width,
		Height:         height,
		TileWidth:      opts.TileWidth,
		TileHeight:     opts.TileHeight,
		IntervalMs:     intervalMs,
		ThumbnailCount: len(thumbs),
		Bandwidth:      maxBandwidth,
		UpdatedAt:      time.Now(),
	}, nil
}

// TileDirName returns the sub-directory name a tile sheet for width is
// stored under: "<width> - <tileWidth>x<tileHeight>".
func TileDirName(width, tileWidth, tileHeight int) string {
	return fmt.Sprintf("%d - %dx%d", width, tileWidth, tileHeight)
}

func hasJPEGs(dir string) bool {
	files, err := jpegsIn(dir)
	return err == nil && len(files) > 0
}

func jpegsIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("could not read directory %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".jpg") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func evenFloor(w int) int {
	return 2 * (w / 2)
}

func ceilDiv(a, b int) int {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

func ceilDiv64(a, b int64) int {
	if b <= 0 {
		return 0
	}
	return int((a + b - 1) / b)
}

func logError(logger *log.Logger, format string, args ...interface{}) {
	if logger == nil {
		return
	}
	logger.Error().Src("trickplay").Msgf(format, args...)
}
