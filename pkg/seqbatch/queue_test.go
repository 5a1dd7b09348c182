package seqbatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triton-infer/seqbatch/pkg/seqbatch/backend"
)

func TestPayloadQueueFIFO(t *testing.T) {
	q := newPayloadQueue()
	assert.True(t, q.Empty())

	p1 := &backend.Payload{RequestProvider: newFakeProvider(1, backend.FlagSequenceStart)}
	p2 := &backend.Payload{RequestProvider: newFakeProvider(1, 0)}
	q.PushBack(p1)
	q.PushBack(p2)

	require.Equal(t, 2, q.Len())
	assert.Same(t, p1, q.Front())
	assert.Same(t, p2, q.Back())

	got := q.PopFront()
	assert.Same(t, p1, got)
	assert.Equal(t, 1, q.Len())

	got = q.PopFront()
	assert.Same(t, p2, got)
	assert.True(t, q.Empty())
}

func TestPayloadQueueDrain(t *testing.T) {
	q := newPayloadQueue()
	p1 := &backend.Payload{RequestProvider: newFakeProvider(1, backend.FlagSequenceStart)}
	p2 := &backend.Payload{RequestProvider: newFakeProvider(1, backend.FlagSequenceEnd)}
	q.PushBack(p1)
	q.PushBack(p2)

	drained := q.Drain()
	require.Len(t, drained, 2)
	assert.Same(t, p1, drained[0])
	assert.Same(t, p2, drained[1])
	assert.True(t, q.Empty())
}

func TestPayloadQueueMoveTo(t *testing.T) {
	src := newPayloadQueue()
	dst := newPayloadQueue()
	p1 := &backend.Payload{RequestProvider: newFakeProvider(1, backend.FlagSequenceStart)}
	p2 := &backend.Payload{RequestProvider: newFakeProvider(1, 0)}
	src.PushBack(p1)
	src.PushBack(p2)

	src.MoveTo(dst)
	assert.True(t, src.Empty())
	require.Equal(t, 2, dst.Len())
	assert.Same(t, p1, dst.PopFront())
	assert.Same(t, p2, dst.PopFront())
}
