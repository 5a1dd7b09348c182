package backend

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestCopyHeaderPreservesEveryField(t *testing.T) {
	src := Header{BatchSizeVal: 1, CorrelationIDVal: 9, FlagsVal: FlagSequenceStart, ModelNameVal: "m"}
	got := CopyHeader(src)

	if diff := cmp.Diff(src, got); diff != "" {
		t.Fatalf("CopyHeader mismatch (-want +got):\n%s", diff)
	}
}

func TestNullRequestProvider(t *testing.T) {
	h := Header{BatchSizeVal: 1, CorrelationIDVal: 9, FlagsVal: 0, ModelNameVal: "m"}
	np := NewNullRequestProvider(h)

	assert.Equal(t, "m", np.ModelName())
	assert.Equal(t, RequestHeader(h), np.RequestHeader())

	overrides := map[string]*InputOverride{"READY": {Content: []byte{0, 0, 0, 0}}}
	np.SetInputOverride(overrides)
	assert.Equal(t, overrides, np.InputOverride())
}

func TestNewCorrelationIDNeverZero(t *testing.T) {
	for i := 0; i < 100; i++ {
		if NewCorrelationID() == 0 {
			t.Fatal("correlation ID must never be zero")
		}
	}
}
