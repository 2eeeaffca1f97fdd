package pool

import (
	"bytes"
	"testing"
)

func TestGetPutBuffer(t *testing.T) {
	before := GetMetrics()

	b := GetBuffer()
	if b.Len() != 0 {
		t.Fatalf("new buffer should be empty, len=%d", b.Len())
	}
	b.WriteString("payload")
	PutBuffer(b)

	b2 := GetBuffer()
	if b2.Len() != 0 {
		t.Errorf("recycled buffer should be reset, len=%d", b2.Len())
	}
	PutBuffer(b2)

	after := GetMetrics()
	if after.BufferGets-before.BufferGets != 2 {
		t.Errorf("expected 2 gets recorded, got %d", after.BufferGets-before.BufferGets)
	}
}

func TestPutBuffer_DropsOversized(t *testing.T) {
	before := GetMetrics()
	PutBuffer(bytes.NewBuffer(make([]byte, 0, MaxBufferSize+1)))
	PutBuffer(nil)
	if d := GetMetrics().BufferDrops - before.BufferDrops; d != 1 {
		t.Errorf("expected 1 drop, got %d", d)
	}
}

func TestMetricsHits(t *testing.T) {
	if h := (Metrics{BufferGets: 10, BufferMisses: 3}).Hits(); h != 7 {
		t.Errorf("Hits() = %d; want 7", h)
	}
	if h := (Metrics{BufferGets: 1, BufferMisses: 3}).Hits(); h != 0 {
		t.Errorf("Hits() = %d; want 0", h)
	}
}
