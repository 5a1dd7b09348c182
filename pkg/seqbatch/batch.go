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
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/triton-infer/seqbatch/pkg/seqbatch/backend"
	"github.com/triton-infer/seqbatch/pkg/seqbatch/internal/nice"
	"github.com/triton-infer/seqbatch/pkg/seqbatch/metrics"
)

const (
	defaultIdleWait  = 500 * time.Millisecond
	debugDelayWait   = 10 * time.Millisecond
)

// coordinator is the back-reference a SequenceBatch uses to release a slot
// or to check the debug delay quorum, without depending on the full
// SequenceBatchScheduler type. Kept as an interface so batch.go's
// concurrency logic can be exercised in isolation from scheduler.go.
type coordinator interface {
	ReleaseBatchSlot(slot BatchSlot, out *SlotQueue) bool
	DelayScheduler(batcherIdx uint32, queueCount, waitForCount int) bool
}

// SequenceBatch is one fixed-width batcher: a set of batchSize slot queues,
// each privately holding the next pending requests for whichever sequence
// currently occupies that slot, and a single worker goroutine that drains
// them into width-complete batches.
type SequenceBatch struct {
	mu sync.Mutex

	base       coordinator
	batcherIdx uint32
	batchSize  uint32

	queues      []*SlotQueue
	activeSlots []bool
	// maxActiveSlot is the highest slot index currently marked active;
	// -1 means no slot is active. Each batch runs slots [0, maxSlot]
	// inclusive, where maxSlot is the highest slot at or below
	// maxActiveSlot whose queue is non-empty this round, synthesizing null
	// payloads for any empty slots below it.
	maxActiveSlot int32

	nullHeader     backend.Header
	haveNullHeader bool

	exit   bool
	exitCh chan struct{}
	exitOnce sync.Once
	wake   chan struct{}

	niceLevel  int
	delayCount int

	onSchedule backend.OnScheduleFunc
	overrides  *controlOverrides

	metrics *metrics.Metrics
	log     *logrus.Entry
}

func newSequenceBatch(
	base coordinator,
	batcherIdx uint32,
	batchSize uint32,
	niceLevel int,
	delayCount int,
	onSchedule backend.OnScheduleFunc,
	overrides *controlOverrides,
	m *metrics.Metrics,
	log *logrus.Entry,
) *SequenceBatch {
	sb := &SequenceBatch{
		base:          base,
		batcherIdx:    batcherIdx,
		batchSize:     batchSize,
		queues:        make([]*SlotQueue, batchSize),
		activeSlots:   make([]bool, batchSize),
		maxActiveSlot: -1,
		exitCh:        make(chan struct{}),
		wake:          make(chan struct{}, 1),
		niceLevel:     niceLevel,
		delayCount:    delayCount,
		onSchedule:    onSchedule,
		overrides:     overrides,
		metrics:       m,
		log:           log,
	}
	for i := range sb.queues {
		sb.queues[i] = newPayloadQueue()
	}
	return sb
}

// Enqueue places payload on the given slot's queue and wakes the worker.
func (sb *SequenceBatch) Enqueue(slot uint32, payload *backend.Payload) {
	sb.mu.Lock()
	if !sb.haveNullHeader {
		sb.nullHeader = backend.CopyHeader(payload.RequestProvider.RequestHeader())
		sb.haveNullHeader = true
	}
	sb.queues[slot].PushBack(payload)
	if !sb.activeSlots[slot] {
		sb.activeSlots[slot] = true
		sb.metrics.ActiveSlots.WithLabelValues(batcherLabel(sb.batcherIdx)).Inc()
	}
	if int32(slot) > sb.maxActiveSlot {
		sb.maxActiveSlot = int32(slot)
	}
	sb.mu.Unlock()

	select {
	case sb.wake <- struct{}{}:
	default:
	}
}

func (sb *SequenceBatch) stop() {
	sb.exitOnce.Do(func() {
		sb.mu.Lock()
		sb.exit = true
		sb.mu.Unlock()
		close(sb.exitCh)
	})
}

func batcherLabel(idx uint32) string {
	return strconv.FormatUint(uint64(idx), 10)
}

// run is the worker goroutine body, launched via errgroup.Group.Go. It
// never returns a non-nil error; all failure modes short of an explicit
// Close are logged and absorbed so that one batcher's trouble cannot tear
// down its siblings.
func (sb *SequenceBatch) run() error {
	runtime.LockOSThread()
	if err := nice.Set(sb.niceLevel); err != nil {
		sb.log.Debugf("failed to apply CPU nice level hint: %v", err)
	}

	delayCnt := sb.delayCount

	for {
		sb.mu.Lock()
		if sb.exit {
			sb.mu.Unlock()
			return nil
		}

		var batch []*backend.Payload
		var wait time.Duration
		adjustMax := false

		if delayCnt > 0 {
			wait = debugDelayWait
			total := 0
			for _, q := range sb.queues {
				total += q.Len()
			}
			if !sb.base.DelayScheduler(sb.batcherIdx, total, delayCnt) {
				delayCnt = 0
			}
		} else {
			maxSlot := sb.maxActiveSlot
			for maxSlot >= 0 && sb.queues[maxSlot].Empty() {
				maxSlot--
			}

			if maxSlot < 0 {
				wait = defaultIdleWait
			} else {
				batch = make([]*backend.Payload, 0, maxSlot+1)
				for i := int32(0); i <= maxSlot; i++ {
					p, slotAdjust := sb.drainSlot(uint32(i))
					batch = append(batch, p)
					if slotAdjust && i == sb.maxActiveSlot {
						adjustMax = true
					}
				}
			}
		}

		if adjustMax {
			for sb.maxActiveSlot >= 0 && !sb.activeSlots[sb.maxActiveSlot] {
				sb.maxActiveSlot--
			}
		}
		sb.mu.Unlock()

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-sb.wake:
				timer.Stop()
			case <-timer.C:
			case <-sb.exitCh:
				timer.Stop()
				return nil
			}
		}

		if len(batch) > 0 {
			sb.metrics.BatchWidth.WithLabelValues(batcherLabel(sb.batcherIdx)).Observe(float64(len(batch)))
			sb.runBatch(batch)
		}
	}
}

// drainSlot pops the next payload for slot i, or synthesizes a null
// placeholder if the slot's queue is currently empty. It must be called
// with sb.mu held. It returns whether the slot became inactive (its
// sequence ended and the freed slot was not immediately re-occupied by a
// backlogged sequence) so the caller can decide whether maxActiveSlot needs
// to shrink.
func (sb *SequenceBatch) drainSlot(i uint32) (*backend.Payload, bool) {
	q := sb.queues[i]
	if q.Empty() {
		np := backend.NewNullRequestProvider(sb.nullHeader)
		np.SetInputOverride(sb.overrides.notReady)
		return &backend.Payload{RequestProvider: np}, false
	}

	p := q.PopFront()
	header := p.RequestProvider.RequestHeader()
	if header.Flags()&backend.FlagSequenceStart != 0 {
		p.RequestProvider.SetInputOverride(sb.overrides.start)
	} else {
		p.RequestProvider.SetInputOverride(sb.overrides.cont)
	}

	if header.Flags()&backend.FlagSequenceEnd == 0 {
		return p, false
	}

	if !q.Empty() {
		sb.metrics.InternalErrorsTotal.WithLabelValues("requests_after_sequence_end").Inc()
		sb.log.Errorf("internal: slot %d has requests queued after a sequence end, discarding %d stray payload(s)", i, q.Len())
		q.Drain()
	}

	released := sb.base.ReleaseBatchSlot(BatchSlot{BatcherIdx: sb.batcherIdx, Slot: i}, q)
	if released {
		sb.activeSlots[i] = false
		sb.metrics.ActiveSlots.WithLabelValues(batcherLabel(sb.batcherIdx)).Dec()
		return p, true
	}
	// The backlog handed the slot straight to another sequence; q now
	// holds that sequence's already-queued requests and the slot stays
	// active.
	return p, false
}

func payloadStatus(p *backend.Payload) error {
	if p.Status != nil {
		return p.Status
	}
	return p.ComputeStatus
}

// runBatch hands batch to the runner and wires up the per-payload
// completion fan-out described by the scheduler's error taxonomy: a
// non-nil status returned to onComplete overrides every payload's own
// Status/ComputeStatus. If the overall status is otherwise OK but a
// payload with no completion function (a null placeholder, which has no
// client to report to) carries a failing status of its own, that failure
// is escalated to override the whole batch — a padding payload going bad
// usually means the batch itself was misaligned.
func (sb *SequenceBatch) runBatch(batch []*backend.Payload) {
	onComplete := func(status error) {
		effective := status
		if effective == nil {
			for _, p := range batch {
				if p.Complete == nil {
					if final := payloadStatus(p); final != nil {
						effective = final
						break
					}
				}
			}
		}

		foundSuccess := false
		for _, p := range batch {
			final := effective
			if final == nil {
				final = payloadStatus(p)
			}
			if !foundSuccess && final == nil && p.Stats != nil {
				p.Stats.SetModelExecutionCount(1)
				foundSuccess = true
			}
			if p.Complete != nil {
				p.Complete(final)
			}
		}
	}
	sb.onSchedule(sb.batcherIdx, batch, onComplete)
}
