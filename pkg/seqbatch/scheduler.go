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

// Package seqbatch implements a sequence-aware batching scheduler: an
// admission point that multiplexes many independent client sequences onto
// a small number of fixed-width batchers, keeping every request belonging
// to the same sequence pinned to the same batch slot for the sequence's
// whole lifetime.
package seqbatch

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/triton-infer/seqbatch/pkg/seqbatch/backend"
	"github.com/triton-infer/seqbatch/pkg/seqbatch/logger"
	"github.com/triton-infer/seqbatch/pkg/seqbatch/metrics"
	"github.com/triton-infer/seqbatch/pkg/seqbatch/modelconfig"
)

// Scheduler admits requests and routes them to a runner in sequence order.
type Scheduler interface {
	// Enqueue admits one request. onComplete is invoked once with the
	// request's final status after the request has been scheduled and run,
	// or immediately if the request is rejected at admission. It is not
	// invoked for a request still queued when Close is called, nor for a
	// request discarded because it was queued behind its sequence's END.
	Enqueue(stats backend.Stats, req backend.RequestProvider, resp backend.ResponseProvider, onComplete backend.OnCompleteFunc)

	// Close stops every batcher's worker goroutine and waits for them to
	// exit. It does not drain in-flight or backlogged requests; callers
	// that need a graceful drain should stop admitting before calling
	// Close.
	Close() error
}

// SequenceBatchScheduler is the coordinator: it owns the pool of ready
// slots, the backlog of sequences waiting for a slot, and the fixed set of
// per-batcher workers that actually run requests. Every field below is
// guarded by mu except batchers, group, metrics, and log, which are set
// once at construction and never modified afterward.
type SequenceBatchScheduler struct {
	mu sync.Mutex

	// readySlots is a LIFO pool of slots with no assigned sequence.
	readySlots []BatchSlot
	// sequenceToSlot maps a live sequence to the slot it occupies.
	sequenceToSlot map[CorrelationID]BatchSlot
	// sequenceToBacklog maps a backlogged sequence to its backlog queue.
	sequenceToBacklog map[CorrelationID]*BacklogQueue
	// backlogQueues is a FIFO of backlog queues waiting for a slot,
	// oldest first. A queue is removed from here the moment it is
	// promoted into a freed slot.
	backlogQueues []*BacklogQueue

	// queueRequestCounts holds each batcher's most recently reported
	// slot-queue occupancy, indexed by batcher index. It backs
	// DelayScheduler's quorum check for TRTSERVER_DELAY_SCHEDULER.
	queueRequestCounts []int
	backlogDelayCount  int

	batchers []*SequenceBatch
	group    *errgroup.Group

	metrics *metrics.Metrics
	log     *logrus.Entry
}

// Create builds a scheduler for one model, with one worker goroutine per
// batcher. Every batcher shares the same batch width and control tensor
// configuration, taken from cfg.
func Create(cfg *modelconfig.Config, batcherCount uint32, onSchedule backend.OnScheduleFunc, opts ...Option) (*SequenceBatchScheduler, error) {
	if cfg == nil {
		return nil, fmt.Errorf("seqbatch: nil model config")
	}
	cfg.CoerceMaxBatchSize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("seqbatch: %w", err)
	}
	if batcherCount == 0 {
		return nil, fmt.Errorf("seqbatch: batcherCount must be >= 1")
	}
	if onSchedule == nil {
		return nil, fmt.Errorf("seqbatch: onSchedule is required")
	}

	o := &schedulerOptions{
		backlogDelayCount: backlogDelayCountFromEnv(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logger.New("seqbatch." + cfg.Name)
	}

	co, err := buildControlOverrides(cfg.SequenceBatching)
	if err != nil {
		return nil, err
	}

	batchWidth := cfg.MaxBatchSize
	m := metrics.New(o.metricsRegisterer)

	s := &SequenceBatchScheduler{
		sequenceToSlot:     make(map[CorrelationID]BatchSlot),
		sequenceToBacklog:  make(map[CorrelationID]*BacklogQueue),
		queueRequestCounts: make([]int, batcherCount),
		backlogDelayCount:  o.backlogDelayCount,
		batchers:           make([]*SequenceBatch, batcherCount),
		group:              &errgroup.Group{},
		metrics:            m,
		log:                o.log,
	}

	// Pushed highest-first so the LIFO pool hands out batcher 0, slot 0
	// before any other slot.
	s.readySlots = make([]BatchSlot, 0, int(batcherCount)*batchWidth)
	for b := int(batcherCount) - 1; b >= 0; b-- {
		for slot := batchWidth - 1; slot >= 0; slot-- {
			s.readySlots = append(s.readySlots, BatchSlot{BatcherIdx: uint32(b), Slot: uint32(slot)})
		}
	}
	s.metrics.ReadySlots.Set(float64(len(s.readySlots)))

	for b := uint32(0); b < batcherCount; b++ {
		delayCnt := delaySchedulerCountFromEnv()
		sb := newSequenceBatch(s, b, uint32(batchWidth), cfg.CPUNiceLevel, delayCnt, onSchedule, co, m, o.log.WithField("batcher", b))
		s.batchers[b] = sb
		s.group.Go(sb.run)
	}

	return s, nil
}

func backlogDelayCountFromEnv() int {
	return envInt("TRTSERVER_BACKLOG_DELAY_SCHEDULER")
}

func delaySchedulerCountFromEnv() int {
	return envInt("TRTSERVER_DELAY_SCHEDULER")
}

func envInt(name string) int {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Enqueue implements Scheduler.
func (s *SequenceBatchScheduler) Enqueue(stats backend.Stats, req backend.RequestProvider, resp backend.ResponseProvider, onComplete backend.OnCompleteFunc) {
	header := req.RequestHeader()

	if header.BatchSize() != 1 {
		s.metrics.AdmissionRejectedTotal.WithLabelValues(metrics.ReasonBadBatchSize).Inc()
		if onComplete != nil {
			onComplete(ErrBatchSizeNotOne)
		}
		return
	}

	corrID := CorrelationID(header.CorrelationID())
	if corrID == 0 {
		s.metrics.AdmissionRejectedTotal.WithLabelValues(metrics.ReasonMissingCorrID).Inc()
		if onComplete != nil {
			onComplete(ErrMissingCorrelationID)
		}
		return
	}

	seqStart := header.Flags()&backend.FlagSequenceStart != 0
	seqEnd := header.Flags()&backend.FlagSequenceEnd != 0

	payload := &backend.Payload{
		Stats:            stats,
		RequestProvider:  req,
		ResponseProvider: resp,
		Complete:         onComplete,
	}

	s.mu.Lock()

	slot, hasSlot := s.sequenceToSlot[corrID]
	backlog, hasBacklog := s.sequenceToBacklog[corrID]

	if !seqStart && !hasSlot && !hasBacklog {
		s.mu.Unlock()
		s.metrics.AdmissionRejectedTotal.WithLabelValues(metrics.ReasonMissingStart).Inc()
		if onComplete != nil {
			onComplete(ErrMissingSequenceStart)
		}
		return
	}

	if seqStart && (hasSlot || hasBacklog) {
		s.log.Warnf("sequence %d: received START flag while already occupying a slot or backlog, continuing the existing sequence", corrID)
		s.metrics.StartConflictsTotal.Inc()
	}

	switch {
	case hasSlot:
		if seqEnd {
			delete(s.sequenceToSlot, corrID)
		}
		s.mu.Unlock()
		s.batchers[slot.BatcherIdx].Enqueue(slot.Slot, payload)
		return

	case hasBacklog:
		backlog.PushBack(payload)
		if seqEnd {
			delete(s.sequenceToBacklog, corrID)
		}
		s.mu.Unlock()
		s.metrics.BacklogDepth.Inc()
		return

	case len(s.readySlots) > 0:
		n := len(s.readySlots)
		target := s.readySlots[n-1]
		s.readySlots = s.readySlots[:n-1]
		if !seqEnd {
			s.sequenceToSlot[corrID] = target
		}
		s.mu.Unlock()
		s.metrics.ReadySlots.Set(float64(n - 1))
		s.batchers[target.BatcherIdx].Enqueue(target.Slot, payload)
		return

	default:
		bl := newPayloadQueue()
		bl.PushBack(payload)
		s.backlogQueues = append(s.backlogQueues, bl)
		if !seqEnd {
			s.sequenceToBacklog[corrID] = bl
		}
		s.mu.Unlock()
		s.metrics.BacklogDepth.Inc()
		s.metrics.BacklogQueues.Set(float64(len(s.backlogQueues)))
		return
	}
}

// ReleaseBatchSlot is called by a batcher, with its own lock already
// released, when a slot's occupying sequence has just ended. If a sequence
// is waiting in the backlog, its queue is moved into out and the slot stays
// occupied by it — the caller must not treat the slot as free, since out
// now holds requests still waiting to run. If the backlog is empty, the
// slot is returned to the ready pool and ok=true.
func (s *SequenceBatchScheduler) ReleaseBatchSlot(slot BatchSlot, out *SlotQueue) (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.backlogQueues) == 0 {
		s.readySlots = append(s.readySlots, slot)
		s.metrics.ReadySlots.Set(float64(len(s.readySlots)))
		return true
	}

	bl := s.backlogQueues[0]
	s.backlogQueues = s.backlogQueues[1:]
	s.metrics.BacklogQueues.Set(float64(len(s.backlogQueues)))

	promoted := bl.Len()
	if promoted == 0 {
		s.metrics.InternalErrorsTotal.WithLabelValues("empty_backlog_queue").Inc()
		s.log.Errorf("internal: backlog queue for slot %s was empty at promotion time", slot)
		s.readySlots = append(s.readySlots, slot)
		s.metrics.ReadySlots.Set(float64(len(s.readySlots)))
		return true
	}

	// The slot is now occupied by the promoted queue's payloads, which
	// still need to run; it is not free, regardless of whether the
	// promoted sequence's last queued request already carries END.
	lastHeader := bl.Back().RequestProvider.RequestHeader()
	bl.MoveTo(out)
	s.metrics.BacklogDepth.Sub(float64(promoted))
	if lastHeader.Flags()&backend.FlagSequenceEnd != 0 {
		// The promoted sequence is already complete; nothing should
		// route to this slot by correlation ID once these payloads
		// drain, so no sequenceToSlot entry is created for it.
		return false
	}

	corrID := CorrelationID(lastHeader.CorrelationID())
	if _, conflict := s.sequenceToSlot[corrID]; conflict {
		s.metrics.InternalErrorsTotal.WithLabelValues("backlog_slot_conflict").Inc()
		s.log.Errorf("internal: backlog sequence %d already has a slot assignment", corrID)
	}
	delete(s.sequenceToBacklog, corrID)
	s.sequenceToSlot[corrID] = slot
	return false
}

// DelayScheduler implements the TRTSERVER_DELAY_SCHEDULER /
// TRTSERVER_BACKLOG_DELAY_SCHEDULER debug knobs: a batcher reports its
// current slot-queue occupancy and the minimum total it is waiting for; the
// coordinator returns true (keep delaying) while the occupancy summed over
// all batchers, or, if configured, the total backlog depth, is still below
// its threshold, and false once both are met.
func (s *SequenceBatchScheduler) DelayScheduler(batcherIdx uint32, queueCount, waitForCount int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queueRequestCounts[batcherIdx] = queueCount
	total := 0
	for _, c := range s.queueRequestCounts {
		total += c
	}
	if total < waitForCount {
		return true
	}

	if s.backlogDelayCount > 0 {
		backlogCount := 0
		for _, q := range s.backlogQueues {
			backlogCount += q.Len()
		}
		if backlogCount < s.backlogDelayCount {
			return true
		}
	}
	return false
}

// Close implements Scheduler.
func (s *SequenceBatchScheduler) Close() error {
	for _, b := range s.batchers {
		b.stop()
	}
	return s.group.Wait()
}
