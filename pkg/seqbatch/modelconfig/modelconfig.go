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

// Package modelconfig loads the slice of a model's deployment configuration
// that a sequence batch scheduler needs: its batch width, its CPU
// scheduling hint, and the control tensors used to signal sequence
// START/READY state to the runner.
package modelconfig

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// SignalConfig describes one control tensor: the name the runner expects it
// under, its declared tensor datatype, and the int32 values written for the
// "true" and "false" state of the signal.
type SignalConfig struct {
	TensorName string `json:"tensorName"`
	DataType   string `json:"dataType"`
	TrueValue  int32  `json:"trueValue"`
	FalseValue int32  `json:"falseValue"`
}

// SequenceBatching holds the two control signals a sequence batcher
// synthesizes on every scheduling round.
type SequenceBatching struct {
	Start SignalConfig `json:"start"`
	Ready SignalConfig `json:"ready"`
}

// Config is the subset of a model's deployment manifest this module reads.
type Config struct {
	Name             string           `json:"name"`
	MaxBatchSize     int              `json:"maxBatchSize"`
	SequenceBatching SequenceBatching `json:"sequenceBatching"`
	// CPUNiceLevel is the scheduling priority hint applied to each
	// batcher's worker goroutine. Zero means "leave the default".
	CPUNiceLevel int `json:"cpuNiceLevel"`
}

// LoadConfig reads and validates a model configuration from path.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("modelconfig: read %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("modelconfig: parse %s: %w", path, err)
	}
	cfg.CoerceMaxBatchSize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("modelconfig: %s: %w", path, err)
	}
	return cfg, nil
}

// CoerceMaxBatchSize clamps MaxBatchSize to at least 1, matching the
// runner's own "at least 1 even if the model doesn't support batching"
// rule: a model with no declared batch width still gets a width-1 batcher
// rather than being rejected.
func (c *Config) CoerceMaxBatchSize() {
	if c.MaxBatchSize < 1 {
		c.MaxBatchSize = 1
	}
}

// Validate checks the invariants the scheduler relies on at construction
// time: a name and two distinctly-named control tensors.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.SequenceBatching.Start.TensorName == "" {
		return fmt.Errorf("sequenceBatching.start.tensorName is required")
	}
	if c.SequenceBatching.Ready.TensorName == "" {
		return fmt.Errorf("sequenceBatching.ready.tensorName is required")
	}
	if c.SequenceBatching.Start.TensorName == c.SequenceBatching.Ready.TensorName {
		return fmt.Errorf("sequenceBatching.start and .ready must name different tensors")
	}
	return nil
}
