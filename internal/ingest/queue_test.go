package ingest

import (
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/knxlog/internal/bridges/knx"
	"github.com/nerrad567/knxlog/internal/registry"
)

func envelopeWithSub(sub uint8) Envelope {
	dp := registry.Datapoint{
		Address: knx.GroupAddress{Main: 1, Middle: 0, Sub: sub},
		Type:    knx.DPTPercentage,
		Family:  5,
	}
	return NewEnvelope(knx.EventWrite, 0x1101, dp, time.Unix(int64(sub), 0), []byte{sub})
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()

	if _, ok := q.TryPop(); ok {
		t.Fatal("TryPop() on empty queue returned ok")
	}

	for i := range 200 {
		q.Push(envelopeWithSub(uint8(i)))
	}
	if q.Len() != 200 {
		t.Fatalf("Len() = %d, want 200", q.Len())
	}

	// Interleave pops and pushes across the compaction threshold.
	for i := range 150 {
		e, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop() #%d empty", i)
		}
		if got := e.Destination().Sub; got != uint8(i) {
			t.Fatalf("TryPop() #%d = sub %d, want %d", i, got, i)
		}
	}
	for i := 200; i < 256; i++ {
		q.Push(envelopeWithSub(uint8(i)))
	}
	for i := 150; i < 256; i++ {
		e, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop() #%d empty", i)
		}
		if got := e.Destination().Sub; got != uint8(i) {
			t.Fatalf("TryPop() #%d = sub %d, want %d", i, got, i)
		}
	}

	if q.Len() != 0 {
		t.Errorf("Len() = %d after draining, want 0", q.Len())
	}
	if _, ok := q.TryPop(); ok {
		t.Error("TryPop() after draining returned ok")
	}
}

func TestQueueConcurrentProducer(t *testing.T) {
	q := NewQueue()
	const n = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range n {
			q.Push(envelopeWithSub(uint8(i % 256)))
		}
	}()

	got := 0
	deadline := time.Now().Add(5 * time.Second)
	for got < n && time.Now().Before(deadline) {
		e, ok := q.TryPop()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		if want := uint8(got % 256); e.Destination().Sub != want {
			t.Fatalf("event %d out of order: sub %d, want %d", got, e.Destination().Sub, want)
		}
		got++
	}
	wg.Wait()

	if got != n {
		t.Errorf("popped %d events, want %d", got, n)
	}
}

func BenchmarkQueuePushPop(b *testing.B) {
	q := NewQueue()
	e := envelopeWithSub(1)
	b.ResetTimer()
	for range b.N {
		q.Push(e)
		q.TryPop()
	}
}
