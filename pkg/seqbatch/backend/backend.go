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

// Package backend defines the narrow surface a model runner must satisfy
// for requests to flow through a sequence batch scheduler: the request and
// response carriers, the per-request execution header, and the completion
// hooks the scheduler uses to report per-payload outcome back to the caller.
package backend

// Flag bits carried on a RequestHeader, mirroring the wire flags a gRPC or
// HTTP front end would attach to a sequence-bearing inference request.
const (
	FlagSequenceStart uint32 = 1 << 0
	FlagSequenceEnd   uint32 = 1 << 1
)

// RequestHeader exposes the subset of a request's metadata the scheduler
// needs to route it: how many samples it carries, which sequence it belongs
// to, its START/END flags, and the model it targets.
type RequestHeader interface {
	BatchSize() uint32
	CorrelationID() uint64
	Flags() uint32
	ModelName() string
}

// Header is a concrete, copyable RequestHeader. Each batcher keeps one of
// these, copied from the first request it ever receives, to build null
// placeholder requests independent of the lifetime of any single
// RequestProvider.
type Header struct {
	BatchSizeVal      uint32
	CorrelationIDVal  uint64
	FlagsVal          uint32
	ModelNameVal      string
}

func (h Header) BatchSize() uint32      { return h.BatchSizeVal }
func (h Header) CorrelationID() uint64  { return h.CorrelationIDVal }
func (h Header) Flags() uint32          { return h.FlagsVal }
func (h Header) ModelName() string      { return h.ModelNameVal }

// CopyHeader snapshots any RequestHeader into a detached Header value.
func CopyHeader(h RequestHeader) Header {
	return Header{
		BatchSizeVal:     h.BatchSize(),
		CorrelationIDVal: h.CorrelationID(),
		FlagsVal:         h.Flags(),
		ModelNameVal:     h.ModelName(),
	}
}

// InputOverride is a tensor value the scheduler injects ahead of a runner
// invocation, used to synthesize the START/READY control signals and to
// fill in placeholder inputs for null (not-ready) requests.
type InputOverride struct {
	Content  []byte
	Shape    []int64
	DataType string
}

// RequestProvider is the scheduler's view of an inbound request: enough to
// read its header and to stamp input overrides onto it before it is handed
// to a runner.
type RequestProvider interface {
	RequestHeader() RequestHeader
	ModelName() string
	SetInputOverride(map[string]*InputOverride)
}

// ResponseProvider is opaque to the scheduler; it is threaded through
// unexamined so the runner can populate it and the original caller can read
// it back once OnCompleteFunc fires.
type ResponseProvider interface{}

// Stats receives execution accounting for a payload that actually reached a
// runner and completed without error.
type Stats interface {
	SetModelExecutionCount(n uint64)
}

// OnCompleteFunc reports the final outcome of a single payload. A nil error
// means the request completed successfully; any non-nil error is the
// request's terminal status as seen by its caller.
type OnCompleteFunc func(err error)

// Payload bundles one request/response pair together with the hooks the
// batch scheduler needs to route, execute, and finish it. Status and
// ComputeStatus are populated by the runner after SetInputOverride has
// already been applied and before the payload's completion function runs.
type Payload struct {
	Stats            Stats
	RequestProvider  RequestProvider
	ResponseProvider ResponseProvider
	Complete         OnCompleteFunc

	// Status carries a runner-detected failure specific to this payload
	// (a "backend error" in the scheduler's error taxonomy).
	Status error
	// ComputeStatus carries the shared outcome of the batch-wide compute
	// step, consulted only when Status is nil.
	ComputeStatus error
}

// OnScheduleFunc is invoked by a batch worker once per scheduling decision
// with the ordered, width-complete batch of payloads to run. The runner
// must call onComplete exactly once, with nil for a successful compute step
// (each payload then reports its own Status/ComputeStatus) or a non-nil
// error that overrides the status of every payload in the batch.
type OnScheduleFunc func(batcherIdx uint32, batch []*Payload, onComplete func(error))

// NullRequestProvider stands in for a batch slot that has no live sequence
// request for the current scheduling round. It is always constructed from
// a previously captured header (the first request its batcher received) so
// the synthesized request carries a shape and model name consistent with
// real requests for the same model.
type NullRequestProvider struct {
	header   Header
	override map[string]*InputOverride
}

// NewNullRequestProvider builds a placeholder RequestProvider from a
// captured header.
func NewNullRequestProvider(header Header) *NullRequestProvider {
	return &NullRequestProvider{header: header}
}

func (n *NullRequestProvider) RequestHeader() RequestHeader { return n.header }
func (n *NullRequestProvider) ModelName() string             { return n.header.ModelName() }

func (n *NullRequestProvider) SetInputOverride(o map[string]*InputOverride) {
	n.override = o
}

// InputOverride returns the overrides last applied via SetInputOverride.
func (n *NullRequestProvider) InputOverride() map[string]*InputOverride {
	return n.override
}
