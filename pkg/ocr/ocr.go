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

// Package ocr recognises text inside RGBA subtitle bitmaps, one loaded
// model session per script family.
package ocr

import (
	"context"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"

	"mediaforge/pkg/log"
	"mediaforge/pkg/ocrmodels"
)

const lineHeight = 48

// Image is one bitmap to recognise.
type Image struct {
	RGBA []byte
	W, H int
}

// Result is the outcome of recognising one Image.
type Result struct {
	Text       string
	Confidence float64
	Regions    int
}

// Engine holds at most one loaded session per script family, loaded
// lazily and shared read-only across goroutines once installed, the same
// keyed-map-guarded-by-a-mutex shape as pkg/monitor.Manager.Monitors.
type Engine struct {
	registry *ocrmodels.Registry
	logger   *log.Logger

	mu       sync.Mutex
	sessions map[ocrmodels.Family]*session

	workers int
}

// NewEngine returns an Engine that loads models on demand from registry.
// The RecognizeBatch worker-pool width is sized once from gopsutil's
// logical core count.
func NewEngine(registry *ocrmodels.Registry, logger *log.Logger) *Engine {
	workers, err := cpu.Counts(true)
	if err != nil || workers < 1 {
		workers = 1
	}

	return &Engine{
		registry: registry,
		logger:   logger,
		sessions: make(map[ocrmodels.Family]*session),
		workers:  workers,
	}
}

// sessionFor returns family's loaded session, loading it on first use.
func (e *Engine) sessionFor(ctx context.Context, family ocrmodels.Family) (*session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.sessions[family]; ok {
		return s, nil
	}

	if err := e.registry.Ensure(ctx, family); err != nil {
		return nil, err
	}

	// The detection model path is available via e.registry.Paths but is
	// unused here: recognition uses row-scan line detection instead.
	// TODO: wire in the detection model if a future revision needs
	// anything beyond horizontal-row text lines (e.g. rotated text).
	s, err := loadSession(e.registry.Paths(family))
	if err != nil {
		return nil, err
	}
	e.sessions[family] = s
	return s, nil
}

// Recognize runs the full pipeline on one RGBA image: composite over
// white, row-scan line detection, per-region resize+inference+CTC decode.
// Inference failures degrade to an empty result rather than propagating.
func (e *Engine) Recognize(ctx context.Context, img Image, family ocrmodels.Family) Result {
	s, err := e.sessionFor(ctx, family)
	if err != nil {
		e.logError("session load failed: %v", err)
		return Result{}
	}
	return e.recognizeWithSession(s, img)
}

func (e *Engine) recognizeWithSession(s *session, img Image) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logError("recognition panicked: %v", r)
			result = Result{}
		}
	}()

	rgb := compositeOverWhite(img.RGBA, img.W, img.H)
	regions := detectLines(rgb, img.W, img.H)

	var texts []string
	var confidences []float64

	for _, r := range regions {
		cropped := cropRGB(rgb, img.W, r)
		dstW, resized := resizeNearest(cropped, r.w, r.h, lineHeight)
		tensor := toCHWTensor(resized, dstW, lineHeight)

		logits, timesteps, classes, err := s.infer.Infer(tensor, dstW)
		if err != nil {
			e.logError("inference failed: %v", err)
			return Result{}
		}

		text, confidence := ctcDecode(logits, timesteps, classes, s.dict)
		if isBlank(text) {
			continue
		}
		texts = append(texts, text)
		confidences = append(confidences, confidence)
	}

	if len(texts) == 0 {
		return Result{}
	}

	sum := 0.0
	for _, c := range confidences {
		sum += c
	}

	return Result{
		Text:       joinLines(texts),
		Confidence: sum / float64(len(confidences)),
		Regions:    len(texts),
	}
}

// RecognizeBatch runs Recognize over images concurrently on a fixed-size
// worker pool sized at Engine construction.
func (e *Engine) RecognizeBatch(ctx context.Context, images []Image, family ocrmodels.Family) []Result {
	results := make([]Result, len(images))

	work := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				results[i] = e.Recognize(ctx, images[i], family)
			}
		}()
	}

	for i := range images {
		select {
		case work <- i:
		case <-ctx.Done():
		}
	}
	close(work)
	wg.Wait()

	return results
}

func (e *Engine) logError(format string, args ...interface{}) {
	if e.logger == nil {
		return
	}
	e.logger.Error().Src("ocr").Msgf(format, args...)
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' {
			return false
		}
	}
	return true
}

func joinLines(lines []string) string {
	out := lines[0]
	for _, l := range lines[1:] {
		out += "\n" + l
	}
	return out
}
