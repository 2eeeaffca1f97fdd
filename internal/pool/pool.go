// Package pool recycles the byte buffers used to capture HTTP bodies.
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/angel122382/rpcdevtools/internal/assert"
)

// Metrics tracks pool performance.
type Metrics struct {
	BufferGets   uint64
	BufferMisses uint64
	BufferDrops  uint64
}

var globalMetrics Metrics

// GetMetrics returns a copy of the current pool metrics.
func GetMetrics() Metrics {
	return Metrics{
		BufferGets:   atomic.LoadUint64(&globalMetrics.BufferGets),
		BufferMisses: atomic.LoadUint64(&globalMetrics.BufferMisses),
		BufferDrops:  atomic.LoadUint64(&globalMetrics.BufferDrops),
	}
}

// Hits is the number of gets served by a recycled buffer.
func (m Metrics) Hits() uint64 {
	if m.BufferMisses > m.BufferGets {
		return 0
	}
	return m.BufferGets - m.BufferMisses
}

var bufferPool = sync.Pool{
	New: func() interface{} {
		atomic.AddUint64(&globalMetrics.BufferMisses, 1)
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// MaxBufferSize caps what goes back into the pool.
const MaxBufferSize = 1024 * 1024

// GetBuffer acquires an empty buffer.
func GetBuffer() *bytes.Buffer {
	atomic.AddUint64(&globalMetrics.BufferGets, 1)
	b := bufferPool.Get().(*bytes.Buffer)
	if err := assert.Check(b.Len() == 0, "pooled buffer not reset: len=%d", b.Len()); err != nil {
		b.Reset()
	}
	return b
}

// PutBuffer resets b and returns it to the pool. Buffers that grew past
// MaxBufferSize are dropped.
func PutBuffer(b *bytes.Buffer) {
	if b == nil {
		return
	}
	if b.Cap() > MaxBufferSize {
		atomic.AddUint64(&globalMetrics.BufferDrops, 1)
		return
	}
	b.Reset()
	bufferPool.Put(b)
}
