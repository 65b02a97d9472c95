package websocket

import (
	"encoding/binary"
	"strconv"
	"testing"

	"github.com/sockwire/websocket/internal/test/assert"
	"github.com/sockwire/websocket/internal/test/xrand"
)

func basicMask(b []byte, key [4]byte, pos int) int {
	for i := range b {
		b[i] ^= key[pos&3]
		pos++
	}
	return pos & 3
}

func TestMask(t *testing.T) {
	t.Parallel()

	// Example 2 from https://tools.ietf.org/html/rfc6455#section-5.7
	key := []byte{0x37, 0xfa, 0x21, 0x3d}
	p := []byte{0x7f, 0x9f, 0x4d, 0x51, 0x58}

	mask(binary.LittleEndian.Uint32(key), p)
	assert.Equal(t, "unmasked", "Hello", string(p))
}

func TestMaskFuzzy(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 3, 4, 7, 8, 31, 32, 33, 100, 4096, 4099} {
		n := n
		t.Run(strconv.Itoa(n), func(t *testing.T) {
			t.Parallel()

			var key [4]byte
			copy(key[:], xrand.Bytes(4))
			key32 := binary.LittleEndian.Uint32(key[:])

			orig := xrand.Bytes(n)
			b1 := append([]byte(nil), orig...)
			b2 := append([]byte(nil), orig...)

			basicMask(b1, key, 0)
			mask(key32, b2)
			assert.Equal(t, "masked", b1, b2)

			mask(key32, b2)
			assert.Equal(t, "idempotent", orig, b2)
		})
	}
}

func TestMaskChunked(t *testing.T) {
	t.Parallel()

	var key [4]byte
	copy(key[:], xrand.Bytes(4))

	orig := xrand.Bytes(1000)
	exp := append([]byte(nil), orig...)
	basicMask(exp, key, 0)

	got := append([]byte(nil), orig...)
	key32 := binary.LittleEndian.Uint32(key[:])
	for b := got; len(b) > 0; {
		n := xrand.Int(len(b)) + 1
		key32 = mask(key32, b[:n])
		b = b[n:]
	}
	assert.Equal(t, "masked", exp, got)
}

func BenchmarkMask(b *testing.B) {
	p := xrand.Bytes(4096)
	key := binary.LittleEndian.Uint32(xrand.Bytes(4))

	b.SetBytes(int64(len(p)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mask(key, p)
	}
}
