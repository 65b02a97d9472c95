package bpool

import (
	"testing"

	"github.com/sockwire/websocket/internal/test/assert"
)

func TestPool(t *testing.T) {
	t.Parallel()

	b := Get()
	assert.Equal(t, "length", 0, len(*b))

	*b = append(*b, "frame"...)
	Put(b)

	b = Get()
	assert.Equal(t, "length", 0, len(*b))
	Put(b)
}

func TestPoolDropsLargeBuffers(t *testing.T) {
	t.Parallel()

	b := Get()
	*b = make([]byte, 0, maxPooled+1)
	Put(b)

	for i := 0; i < 10; i++ {
		b := Get()
		if cap(*b) > maxPooled {
			t.Fatalf("got pooled buffer of capacity %v", cap(*b))
		}
	}
}
