// Package bpool pools the byte slices frames are encoded into.
package bpool

import "sync"

var pool sync.Pool

// maxPooled is the capacity above which buffers are left to the GC
// so a single large message does not stay pinned in the pool.
const maxPooled = 1 << 16

// Get returns an empty buffer from the pool or a new one.
func Get() *[]byte {
	b, ok := pool.Get().(*[]byte)
	if !ok {
		b = new([]byte)
	}
	*b = (*b)[:0]
	return b
}

// Put returns b to the pool.
func Put(b *[]byte) {
	if cap(*b) > maxPooled {
		return
	}
	pool.Put(b)
}
