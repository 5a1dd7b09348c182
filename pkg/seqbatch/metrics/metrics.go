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

// Package metrics exposes Prometheus instrumentation for a sequence batch
// scheduler: slot occupancy, backlog depth, batch width, and the warning
// and internal-error counters raised by the coordinator and its batchers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Label names
	LabelBatcher = "batcher"
	LabelReason  = "reason"
	LabelKind    = "kind"

	// ReasonBadBatchSize etc. are admission-rejection reasons.
	ReasonBadBatchSize  = "bad_batch_size"
	ReasonMissingCorrID = "missing_correlation_id"
	ReasonMissingStart  = "missing_sequence_start"
)

// Metrics holds every Prometheus metric a scheduler instance exports. A
// fresh registry is used by default so that constructing more than one
// Metrics in the same process — routine in unit tests — never collides
// with a duplicate-registration panic against the global registry.
type Metrics struct {
	ReadySlots    prometheus.Gauge
	ActiveSlots   *prometheus.GaugeVec
	BacklogDepth  prometheus.Gauge
	BacklogQueues prometheus.Gauge
	BatchWidth    *prometheus.HistogramVec

	AdmissionRejectedTotal *prometheus.CounterVec
	StartConflictsTotal    prometheus.Counter
	InternalErrorsTotal    *prometheus.CounterVec
}

// New builds and registers a Metrics instance against reg. A nil reg
// registers against a private registry created for this call, never the
// global default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		ReadySlots: f.NewGauge(prometheus.GaugeOpts{
			Name: "seqbatch_ready_slots",
			Help: "Batch slots currently idle and available for a new sequence.",
		}),
		ActiveSlots: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "seqbatch_active_slots",
			Help: "Batch slots currently occupied by a live sequence, by batcher.",
		}, []string{LabelBatcher}),
		BacklogDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "seqbatch_backlog_requests",
			Help: "Requests currently waiting in a backlog queue for a free slot.",
		}),
		BacklogQueues: f.NewGauge(prometheus.GaugeOpts{
			Name: "seqbatch_backlog_queues",
			Help: "Distinct sequences currently waiting in the backlog.",
		}),
		BatchWidth: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "seqbatch_batch_width",
			Help:    "Number of slots included in each scheduled batch, by batcher.",
			Buckets: prometheus.LinearBuckets(1, 1, 16),
		}, []string{LabelBatcher}),
		AdmissionRejectedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "seqbatch_admission_rejected_total",
			Help: "Requests rejected at admission, by reason.",
		}, []string{LabelReason}),
		StartConflictsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "seqbatch_start_conflicts_total",
			Help: "Sequence START requests received for a correlation ID already occupying a slot or backlog.",
		}),
		InternalErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "seqbatch_internal_errors_total",
			Help: "Internal consistency errors observed by the scheduler, by kind.",
		}, []string{LabelKind}),
	}
}
