package seqbatch

import (
	"github.com/triton-infer/seqbatch/pkg/seqbatch/backend"
	"github.com/triton-infer/seqbatch/pkg/seqbatch/modelconfig"
)

// fakeProvider is a minimal backend.RequestProvider used across this
// package's tests; it records whatever override the worker stamps onto it
// so tests can assert which control tensor map was applied.
type fakeProvider struct {
	header   backend.Header
	override map[string]*backend.InputOverride
}

func newFakeProvider(corrID uint64, flags uint32) *fakeProvider {
	return &fakeProvider{header: backend.Header{
		BatchSizeVal:     1,
		CorrelationIDVal: corrID,
		FlagsVal:         flags,
		ModelNameVal:     "test-model",
	}}
}

func (f *fakeProvider) RequestHeader() backend.RequestHeader { return f.header }
func (f *fakeProvider) ModelName() string                    { return f.header.ModelName() }
func (f *fakeProvider) SetInputOverride(o map[string]*backend.InputOverride) {
	f.override = o
}

func testModelConfig(batchWidth int) *modelconfig.Config {
	return &modelconfig.Config{
		Name:         "test-model",
		MaxBatchSize: batchWidth,
		SequenceBatching: modelconfig.SequenceBatching{
			Start: modelconfig.SignalConfig{TensorName: "START", DataType: "TYPE_INT32", TrueValue: 1, FalseValue: 0},
			Ready: modelconfig.SignalConfig{TensorName: "READY", DataType: "TYPE_INT32", TrueValue: 1, FalseValue: 0},
		},
	}
}
