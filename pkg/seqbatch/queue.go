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
	"github.com/gammazero/deque"

	"github.com/triton-infer/seqbatch/pkg/seqbatch/backend"
)

// PayloadQueue is an ordered run of payloads belonging to the same
// sequence. A batch slot's queue and a backlog queue are the same shape —
// both are just "the next requests for one sequence, in arrival order" —
// so they share this single implementation. Callers are responsible for
// holding whatever lock protects the queue; PayloadQueue does no locking
// of its own.
type PayloadQueue struct {
	d deque.Deque[*backend.Payload]
}

// SlotQueue is the per-slot queue a sequence batcher drains on every
// scheduling round.
type SlotQueue = PayloadQueue

// BacklogQueue holds requests for a sequence that arrived before a batch
// slot was available for it.
type BacklogQueue = PayloadQueue

func newPayloadQueue() *PayloadQueue {
	return &PayloadQueue{}
}

func (q *PayloadQueue) PushBack(p *backend.Payload) {
	q.d.PushBack(p)
}

func (q *PayloadQueue) PopFront() *backend.Payload {
	return q.d.PopFront()
}

func (q *PayloadQueue) Front() *backend.Payload {
	return q.d.Front()
}

func (q *PayloadQueue) Back() *backend.Payload {
	return q.d.Back()
}

func (q *PayloadQueue) Len() int {
	return q.d.Len()
}

func (q *PayloadQueue) Empty() bool {
	return q.d.Len() == 0
}

// Drain removes and returns every payload currently queued, oldest first.
func (q *PayloadQueue) Drain() []*backend.Payload {
	out := make([]*backend.Payload, 0, q.d.Len())
	for q.d.Len() > 0 {
		out = append(out, q.d.PopFront())
	}
	return out
}

// MoveTo appends all of q's payloads onto dst, oldest first, and empties q.
func (q *PayloadQueue) MoveTo(dst *PayloadQueue) {
	for q.d.Len() > 0 {
		dst.PushBack(q.d.PopFront())
	}
}
