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
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	ort "github.com/yalue/onnxruntime_go"

	"mediaforge/pkg/ocrmodels"
)

// inferer runs one [1,3,48,W] f32 recognition tensor through a loaded
// model, returning its [1,T,C] logits flattened to [T,C] row-major.
type inferer interface {
	Infer(chw []float32, width int) (logits []float32, timesteps, classes int, err error)
	Close() error
}

// session is a loaded recognition model plus its character dictionary for
// one script family.
type session struct {
	dict  []string
	infer inferer
}

func loadSession(paths ocrmodels.Paths) (*session, error) {
	dict, err := loadDict(paths.Dict)
	if err != nil {
		return nil, fmt.Errorf("loading dictionary: %w", err)
	}

	infer, err := newOnnxInferer(paths.Recognition)
	if err != nil {
		return nil, fmt.Errorf("opening recognition model: %w", err)
	}

	return &session{dict: dict, infer: infer}, nil
}

// loadDict parses an ordered glyph list, trimming a UTF-8 BOM and blank
// lines.
func loadDict(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	var dict []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		dict = append(dict, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return dict, nil
}

// onnxInferer wraps an onnxruntime_go session: graph optimization
// enabled, sequential execution, 1 inter-op thread, 4 intra-op threads, as
// required by the recognition contract ([1,3,48,W] f32 in, [1,T,C] f32
// out).
type onnxInferer struct {
	session *ort.DynamicAdvancedSession
}

func newOnnxInferer(modelPath string) (*onnxInferer, error) {
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, err
		}
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	if err := opts.SetIntraOpNumThreads(4); err != nil {
		return nil, err
	}
	if err := opts.SetInterOpNumThreads(1); err != nil {
		return nil, err
	}
	if err := opts.SetExecutionMode(ort.ExecutionModeSequential); err != nil {
		return nil, err
	}
	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, err
	}

	s, err := ort.NewDynamicAdvancedSession(modelPath, []string{"input"}, []string{"output"}, opts)
	if err != nil {
		return nil, err
	}

	return &onnxInferer{session: s}, nil
}

func (o *onnxInferer) Infer(chw []float32, width int) ([]float32, int, int, error) {
	inputShape := ort.NewShape(1, 3, 48, int64(width))
	inputTensor, err := ort.NewTensor(inputShape, chw)
	if err != nil {
		return nil, 0, 0, err
	}
	defer inputTensor.Destroy()

	outputs, err := o.session.Run([]ort.Value{inputTensor}, []ort.Value{nil})
	if err != nil {
		return nil, 0, 0, err
	}
	if len(outputs) == 0 {
		return nil, 0, 0, fmt.Errorf("recognition model returned no output tensor")
	}

	outTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, 0, 0, fmt.Errorf("unexpected output tensor type")
	}
	defer outTensor.Destroy()

	shape := outTensor.GetShape()
	if len(shape) != 3 {
		return nil, 0, 0, fmt.Errorf("unexpected output rank %d", len(shape))
	}
	timesteps, classes := int(shape[1]), int(shape[2])
	return outTensor.GetData(), timesteps, classes, nil
}

func (o *onnxInferer) Close() error {
	return o.session.Destroy()
}
