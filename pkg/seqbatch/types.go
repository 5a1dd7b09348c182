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
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// CorrelationID identifies one client sequence across all of the requests
// that belong to it.
type CorrelationID uint64

// BatchSlot names one fixed position inside one batcher: the batcher index
// it belongs to and the slot offset within that batcher's batch width.
type BatchSlot struct {
	BatcherIdx uint32
	Slot       uint32
}

func (s BatchSlot) String() string {
	return fmt.Sprintf("batcher=%d slot=%d", s.BatcherIdx, s.Slot)
}

// Errors returned directly to a caller of Enqueue. These are admission
// failures: the request never reaches a batch slot.
var (
	// ErrBatchSizeNotOne is returned for any request whose RequestHeader
	// reports a batch size other than one; sequence batching only
	// multiplexes singleton requests.
	ErrBatchSizeNotOne = fmt.Errorf("seqbatch: sequence batching requires batch size 1")

	// ErrMissingCorrelationID is returned for a request with a zero
	// correlation ID, which this scheduler reserves to mean "no sequence".
	ErrMissingCorrelationID = fmt.Errorf("seqbatch: sequence batching requires a non-zero correlation ID")

	// ErrMissingSequenceStart is returned for a request that is neither
	// flagged as a sequence start nor recognized as continuing a
	// sequence already occupying a slot or backlog entry.
	ErrMissingSequenceStart = fmt.Errorf("seqbatch: request for unknown sequence is missing the start flag")
)

// Option configures a Scheduler at construction time.
type Option func(*schedulerOptions)

type schedulerOptions struct {
	metricsRegisterer prometheus.Registerer
	log               *logrus.Entry
	backlogDelayCount int
}

// WithMetricsRegisterer registers the scheduler's Prometheus metrics
// against reg instead of a private registry.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *schedulerOptions) {
		o.metricsRegisterer = reg
	}
}

// WithLogger overrides the log entry the scheduler and its batchers write
// to.
func WithLogger(l *logrus.Entry) Option {
	return func(o *schedulerOptions) {
		o.log = l
	}
}

// WithBacklogDelayCount sets the minimum number of backlogged requests the
// debug delay knob (TRTSERVER_BACKLOG_DELAY_SCHEDULER) waits for, overriding
// the environment variable.
func WithBacklogDelayCount(n int) Option {
	return func(o *schedulerOptions) {
		o.backlogDelayCount = n
	}
}
