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

package ocr

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"mediaforge/pkg/ocrmodels"
)

func TestCompositeOverWhiteOpaqueAndTransparent(t *testing.T) {
	// one opaque black pixel, one fully transparent pixel.
	rgba := []byte{0, 0, 0, 255, 10, 20, 30, 0}
	rgb := compositeOverWhite(rgba, 2, 1)
	require.Equal(t, []byte{0, 0, 0, 255, 255, 255}, rgb)
}

func TestDetectLinesFindsSingleRegion(t *testing.T) {
	w, h := 10, 10
	rgb := make([]byte, 3*w*h)
	for i := range rgb {
		rgb[i] = 255 // all white.
	}
	// draw a dark horizontal stripe across rows 4-5, columns 2-6.
	for y := 4; y <= 5; y++ {
		for x := 2; x <= 6; x++ {
			i := 3 * (y*w + x)
			rgb[i], rgb[i+1], rgb[i+2] = 0, 0, 0
		}
	}

	regions := detectLines(rgb, w, h)
	require.Len(t, regions, 1)
	require.True(t, regions[0].y <= 4)
	require.True(t, regions[0].y+regions[0].h >= 6)
}

func TestDetectLinesDropsNarrowRegion(t *testing.T) {
	w, h := 4, 10
	rgb := make([]byte, 3*w*h)
	for i := range rgb {
		rgb[i] = 255
	}
	// one dark pixel in a 4px-wide image: even after padding the region
	// is only 4px wide, under the 5px minimum, so it is dropped.
	off := 3 * (4*w + 1)
	rgb[off], rgb[off+1], rgb[off+2] = 0, 0, 0
	regions := detectLines(rgb, w, h)
	require.Empty(t, regions)
}

func TestResizeNearestPreservesAspectRatio(t *testing.T) {
	src := make([]byte, 3*20*10)
	dstW, out := resizeNearest(src, 20, 10, 48)
	require.Equal(t, 96, dstW)
	require.Len(t, out, 3*96*48)
}

func TestResizeNearestClampsWidth(t *testing.T) {
	src := make([]byte, 3*10000*10)
	dstW, _ := resizeNearest(src, 10000, 10, 48)
	require.Equal(t, 1920, dstW)
}

func TestToCHWTensorNormalizesRange(t *testing.T) {
	rgb := []byte{0, 127, 255}
	tensor := toCHWTensor(rgb, 1, 1)
	require.InDelta(t, -1.0, tensor[0], 1e-6)
	require.InDelta(t, 1.0, tensor[2], 1e-6)
}

func TestCTCDecodeCollapsesDuplicatesAndBlanks(t *testing.T) {
	dict := []string{"a", "b", "c"}
	// classes: 0=blank,1='a',2='b',3='c', plus implicit space at len(dict)+1=4
	// sequence: a, a, blank, b, b, b, c -> "abc"
	logits := buildLogits([]int{1, 1, 0, 2, 2, 2, 3}, 5)
	text, conf := ctcDecode(logits, 7, 5, dict)
	require.Equal(t, "abc", text)
	require.Greater(t, conf, 0.0)
}

func TestCTCDecodeEmitsSpaceForLastClass(t *testing.T) {
	dict := []string{"a", "b"}
	// classes 0..3: 0 blank, 1='a', 2='b', 3=space (len(dict)+1=3)
	logits := buildLogits([]int{1, 3, 2}, 4)
	text, _ := ctcDecode(logits, 3, 4, dict)
	require.Equal(t, "a b", text)
}

func TestCTCDecodeAllBlankYieldsEmpty(t *testing.T) {
	dict := []string{"a"}
	logits := buildLogits([]int{0, 0, 0}, 2)
	text, conf := ctcDecode(logits, 3, 2, dict)
	require.Equal(t, "", text)
	require.Equal(t, 0.0, conf)
}

// buildLogits constructs a [timesteps, classes] row-major logits buffer
// where argmaxPerStep[t] is pushed far above the rest so argmax is stable.
func buildLogits(argmaxPerStep []int, classes int) []float32 {
	out := make([]float32, len(argmaxPerStep)*classes)
	for t, argmax := range argmaxPerStep {
		row := out[t*classes : (t+1)*classes]
		for c := range row {
			row[c] = 0.1
		}
		row[argmax] = 10
	}
	return out
}

type fakeInferer struct {
	logits    []float32
	timesteps int
	classes   int
}

func (f *fakeInferer) Infer(chw []float32, width int) ([]float32, int, int, error) {
	return f.logits, f.timesteps, f.classes, nil
}

func (f *fakeInferer) Close() error { return nil }

func solidRGBAImage(w, h int, dark bool) Image {
	rgba := make([]byte, 4*w*h)
	for i := 0; i < w*h; i++ {
		if dark {
			rgba[4*i], rgba[4*i+1], rgba[4*i+2], rgba[4*i+3] = 0, 0, 0, 255
		} else {
			rgba[4*i], rgba[4*i+1], rgba[4*i+2], rgba[4*i+3] = 255, 255, 255, 255
		}
	}
	return Image{RGBA: rgba, W: w, H: h}
}

func TestRecognizeWithSessionUsesInjectedInferer(t *testing.T) {
	dict := []string{"a", "b", "c"}
	logits := buildLogits([]int{1, 2, 3}, 5)
	s := &session{dict: dict, infer: &fakeInferer{logits: logits, timesteps: 3, classes: 5}}

	e := &Engine{sessions: make(map[ocrmodels.Family]*session)}
	result := e.recognizeWithSession(s, solidRGBAImage(20, 20, true))

	require.Equal(t, "abc", result.Text)
	require.Equal(t, 1, result.Regions)
}

func TestRecognizeWithSessionNoRegionsYieldsEmptyResult(t *testing.T) {
	s := &session{dict: []string{"a"}, infer: &fakeInferer{}}
	e := &Engine{sessions: make(map[ocrmodels.Family]*session)}

	result := e.recognizeWithSession(s, solidRGBAImage(20, 20, false))
	require.Equal(t, Result{}, result)
}

func TestRecognizeBatchRunsConcurrently(t *testing.T) {
	dict := []string{"a"}
	logits := buildLogits([]int{1}, 3)
	s := &session{dict: dict, infer: &fakeInferer{logits: logits, timesteps: 1, classes: 3}}

	e := &Engine{sessions: map[ocrmodels.Family]*session{ocrmodels.Latin: s}, workers: 4}

	var mu sync.Mutex
	calls := 0
	// can't inject registry.Ensure easily here without a fake registry, so
	// exercise sessionFor's already-loaded fast path directly instead.
	images := make([]Image, 8)
	for i := range images {
		images[i] = solidRGBAImage(20, 20, true)
	}

	results := e.RecognizeBatch(context.Background(), images, ocrmodels.Latin)
	require.Len(t, results, 8)
	for _, r := range results {
		require.Equal(t, "a", r.Text)
		mu.Lock()
		calls++
		mu.Unlock()
	}
	require.Equal(t, 8, calls)
}
