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

// Package subtitles glues the PGS decoder, OCR model registry, and OCR
// engine into time-windowed text subtitle tracks.
package subtitles

import (
	"context"
	"io"
	"strings"
	"time"

	"mediaforge/pkg/ocr"
	"mediaforge/pkg/ocrmodels"
	"mediaforge/pkg/pgs"
)

// batchSize bounds how many display sets are held in memory at once during
// a full-stream conversion.
const batchSize = 50

// Event is one emitted subtitle cue.
type Event struct {
	StartTicks uint64
	EndTicks   uint64
	ID         int
	Text       string
}

// Track is an ordered, sequentially-ID'd list of subtitle events.
type Track struct {
	Events []Event
}

// Converter glues the PGS decoder to the OCR engine.
type Converter struct {
	registry *ocrmodels.Registry
	engine   *ocr.Engine
}

// NewConverter returns a Converter that resolves language codes through
// registry and recognises text through engine.
func NewConverter(registry *ocrmodels.Registry, engine *ocr.Engine) *Converter {
	return &Converter{registry: registry, engine: engine}
}

// ConvertFull decodes pgsStream end to end, in batches of 50 display sets,
// returning the full subtitle track. Unsupported or missing-model
// languages yield an empty (not erroring) track.
func (c *Converter) ConvertFull(ctx context.Context, pgsStream io.Reader, language string) (Track, error) {
	family := ocrmodels.Resolve(language)
	if family == ocrmodels.None || !c.registry.HasModels(family) {
		return Track{}, nil
	}

	decoder := pgs.New(pgsStream)
	return c.convert(ctx, decoder, family)
}

// ConvertRange decodes only display sets whose start falls in [start, end),
// the same unsupported/missing-model empty-track rule as ConvertFull.
func (c *Converter) ConvertRange(ctx context.Context, pgsStream io.Reader, language string, start, end time.Duration) (Track, error) {
	family := ocrmodels.Resolve(language)
	if family == ocrmodels.None || !c.registry.HasModels(family) {
		return Track{}, nil
	}

	decoder := pgs.NewWindowed(pgsStream, start, end)
	return c.convert(ctx, decoder, family)
}

func (c *Converter) convert(ctx context.Context, decoder *pgs.Decoder, family ocrmodels.Family) (Track, error) {
	var track Track
	nextID := 1

	for {
		batch, err := readBatch(decoder, batchSize)
		if err != nil {
			return track, err
		}
		if len(batch) == 0 {
			break
		}

		images := make([]ocr.Image, len(batch))
		for i, d := range batch {
			images[i] = ocr.Image{RGBA: d.RGBA, W: d.Width, H: d.Height}
		}

		results := c.engine.RecognizeBatch(ctx, images, family)

		for i, r := range results {
			text := strings.TrimSpace(r.Text)
			if text == "" {
				continue
			}
			track.Events = append(track.Events, Event{
				StartTicks: durationToTicks(batch[i].Start),
				EndTicks:   durationToTicks(batch[i].End),
				ID:         nextID,
				Text:       text,
			})
			nextID++
		}

		select {
		case <-ctx.Done():
			return track, ctx.Err()
		default:
		}
	}

	return track, nil
}

// readBatch pulls up to n display sets from decoder, stopping early (and
// without error) at io.EOF.
func readBatch(decoder *pgs.Decoder, n int) ([]*pgs.DisplaySet, error) {
	var batch []*pgs.DisplaySet
	for i := 0; i < n; i++ {
		ds, err := decoder.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return batch, err
		}
		batch = append(batch, ds)
	}
	return batch, nil
}

func durationToTicks(d time.Duration) uint64 {
	return uint64(d.Seconds() * pgs.TicksPerSecond)
}
