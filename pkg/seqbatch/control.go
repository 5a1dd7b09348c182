/*
Copyright MatrixInfer-AI Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package seqbatch

import (
	"encoding/binary"
	"fmt"

	"github.com/triton-infer/seqbatch/pkg/seqbatch/backend"
	"github.com/triton-infer/seqbatch/pkg/seqbatch/modelconfig"
)

// controlOverrides holds the three fixed input-override maps a sequence
// batcher stamps onto payloads before handing a batch to its runner: one
// for a sequence's first request, one for its continuations, and one for
// the null placeholder used when a slot has no live request this round.
// All three are built once at construction time and never mutated again.
type controlOverrides struct {
	start    map[string]*backend.InputOverride
	cont map[string]*backend.InputOverride
	notReady map[string]*backend.InputOverride
}

func int32Override(sig modelconfig.SignalConfig, value int32) *backend.InputOverride {
	content := make([]byte, 4)
	binary.LittleEndian.PutUint32(content, uint32(value))
	return &backend.InputOverride{
		Content:  content,
		Shape:    []int64{1},
		DataType: sig.DataType,
	}
}

// buildControlOverrides synthesizes the START/READY control tensors from a
// model's sequence batching configuration. The START tensor is true only
// on a sequence's first request; the READY tensor is true on every live
// request and false only for the null placeholder.
func buildControlOverrides(cfg modelconfig.SequenceBatching) (*controlOverrides, error) {
	if cfg.Start.TensorName == "" || cfg.Ready.TensorName == "" {
		return nil, fmt.Errorf("seqbatch: sequence batching control tensors must be named")
	}

	co := &controlOverrides{
		start:     map[string]*backend.InputOverride{},
		cont: map[string]*backend.InputOverride{},
		notReady:  map[string]*backend.InputOverride{},
	}

	co.start[cfg.Start.TensorName] = int32Override(cfg.Start, cfg.Start.TrueValue)
	co.cont[cfg.Start.TensorName] = int32Override(cfg.Start, cfg.Start.FalseValue)
	co.notReady[cfg.Start.TensorName] = int32Override(cfg.Start, cfg.Start.FalseValue)

	co.start[cfg.Ready.TensorName] = int32Override(cfg.Ready, cfg.Ready.TrueValue)
	co.cont[cfg.Ready.TensorName] = int32Override(cfg.Ready, cfg.Ready.TrueValue)
	co.notReady[cfg.Ready.TensorName] = int32Override(cfg.Ready, cfg.Ready.FalseValue)

	return co, nil
}
