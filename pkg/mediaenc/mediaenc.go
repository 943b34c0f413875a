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

// Package mediaenc wraps an external ffmpeg binary to satisfy the
// MediaEncoder contracts used by trickplay and I-frame playlist
// generation, and composes trickplay tile sheets with the standard image
// library.
package mediaenc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"mediaforge/pkg/iframeplaylist"
	"mediaforge/pkg/log"
	"mediaforge/pkg/trickplay"
)

// Encoder wraps an ffmpeg binary. It implements trickplay.MediaEncoder,
// trickplay.ImageEncoder and iframeplaylist.MediaEncoder.
type Encoder struct {
	ffmpegBin string
	logger    *log.Logger
}

// New returns an Encoder invoking ffmpegBin.
func New(ffmpegBin string, logger *log.Logger) *Encoder {
	return &Encoder{ffmpegBin: ffmpegBin, logger: logger}
}

var _ trickplay.MediaEncoder = (*Encoder)(nil)
var _ trickplay.ImageEncoder = (*Encoder)(nil)
var _ iframeplaylist.MediaEncoder = (*Encoder)(nil)

// ExtractThumbs extracts interval-spaced JPEG thumbnails into a fresh
// scratch directory, numbered 00001.jpg, 00002.jpg, ... in chronological
// order.
func (e *Encoder) ExtractThumbs(ctx context.Context, req trickplay.ThumbRequest) (string, error) {
	dir, err := os.MkdirTemp("", "mediaforge-thumbs-*")
	if err != nil {
		return "", fmt.Errorf("could not create scratch directory: %w", err)
	}

	fps := 1000.0 / float64(req.IntervalMs)
	args := []string{"-y"}
	args = append(args, hwAccelArgs(req.HWAccel)...)
	args = append(args, "-i", req.Path)
	args = append(args, "-map", fmt.Sprintf("0:v:%d", req.VideoStream))
	args = append(args, "-vf", fmt.Sprintf("fps=%f,scale=%d:-2", fps, req.Width))
	if req.IFramesOnly {
		args = append(args, "-skip_frame", "nokey")
	}
	if req.Threads > 0 {
		args = append(args, "-threads", strconv.Itoa(req.Threads))
	}
	args = append(args, dir+"/%05d.jpg")

	cmd := exec.CommandContext(ctx, e.ffmpegBin, args...)
	applyPriority(cmd, req.Priority)

	if err := newProcess(cmd, "extract-thumbs", e.logger).run(ctx); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	return dir, nil
}

// GenerateIFrameHLS produces a scratch directory containing iframe.m3u8,
// init.mp4 and a sequence of fMP4 segments, all keyframes, at req.Width x
// req.Height.
func (e *Encoder) GenerateIFrameHLS(ctx context.Context, req iframeplaylist.IFrameRequest) (string, error) {
	dir, err := os.MkdirTemp("", "mediaforge-iframe-*")
	if err != nil {
		return "", fmt.Errorf("could not create scratch directory: %w", err)
	}

	args := []string{
		"-y",
		"-i", req.Path,
		"-map", fmt.Sprintf("0:v:%d", req.VideoStream),
		"-vf", fmt.Sprintf("scale=%d:%d", req.Width, req.Height),
		"-an",
		"-g", "1", // every frame is a keyframe
		"-sc_threshold", "0",
		"-hls_segment_type", "fmp4",
		"-hls_fmp4_init_filename", "init.mp4",
		"-hls_segment_filename", dir + "/%d.m4s",
		"-f", "hls",
		dir + "/iframe.m3u8",
	}

	cmd := exec.CommandContext(ctx, e.ffmpegBin, args...)

	if err := newProcess(cmd, "generate-iframe-hls", e.logger).run(ctx); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	if err := waitForFile(ctx, dir, "iframe.m3u8"); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("waiting for iframe.m3u8: %w", err)
	}
	return dir, nil
}

func hwAccelArgs(flags []string) []string {
	if len(flags) == 0 {
		return nil
	}
	return append([]string{"-hwaccel"}, flags...)
}

func applyPriority(cmd *exec.Cmd, priority string) {
	if priority == "" {
		return
	}
	cmd.Env = append(os.Environ(), "MEDIAFORGE_PRIORITY="+priority)
}
