package queue

import (
	"sync"
	"testing"

	"github.com/stratawm/strata/scripting/internal/callback"
)

func TestEventsDrainOrder(t *testing.T) {
	q := NewEvents()
	for i := 1; i <= 5; i++ {
		q.Push(Event{Callback: callback.ID(i)})
	}

	events := q.Drain()
	if len(events) != 5 {
		t.Fatalf("drained %d events, want 5", len(events))
	}
	for i, ev := range events {
		if ev.Callback != callback.ID(i+1) {
			t.Errorf("event %d has callback %d", i, ev.Callback)
		}
	}

	if q.Len() != 0 {
		t.Error("queue not empty after drain")
	}
	if got := q.Drain(); got != nil {
		t.Errorf("second drain returned %d events", len(got))
	}
}

func TestEventsConcurrentProducers(t *testing.T) {
	q := NewEvents()
	const producers = 8
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(Event{Callback: callback.ID(p*perProducer + i + 1)})
			}
		}(p)
	}
	wg.Wait()

	events := q.Drain()
	if len(events) != producers*perProducer {
		t.Fatalf("drained %d events, want %d", len(events), producers*perProducer)
	}

	// Per-producer order: each producer's events appear in its own
	// push sequence even when interleaved with others.
	lastPerProducer := make(map[int]int)
	for _, ev := range events {
		id := int(ev.Callback) - 1
		p := id / perProducer
		seq := id % perProducer
		if seq < lastPerProducer[p] {
			t.Fatalf("producer %d order broken: %d after %d", p, seq, lastPerProducer[p])
		}
		lastPerProducer[p] = seq
	}
}

func TestDeferredRunsInOrder(t *testing.T) {
	d := NewDeferred(16, 16)
	var got []int
	for i := 1; i <= 4; i++ {
		i := i
		d.Push(func() { got = append(got, i) })
	}

	if n := d.RunBatch(); n != 4 {
		t.Fatalf("ran %d tasks, want 4", n)
	}
	for i, v := range got {
		if v != i+1 {
			t.Errorf("task order %v", got)
			break
		}
	}
}

func TestDeferredPerTickBudget(t *testing.T) {
	d := NewDeferred(16, 2)
	ran := 0
	for i := 0; i < 5; i++ {
		d.Push(func() { ran++ })
	}

	if n := d.RunBatch(); n != 2 {
		t.Fatalf("first batch ran %d, want 2", n)
	}
	if d.Len() != 3 {
		t.Errorf("queue holds %d, want 3", d.Len())
	}
	d.RunBatch()
	d.RunBatch()
	if ran != 5 {
		t.Errorf("ran %d tasks total, want 5", ran)
	}
}

func TestDeferredDropsOldestOnOverflow(t *testing.T) {
	d := NewDeferred(3, 10)
	drops := 0
	d.OnDrop(func() { drops++ })

	var got []int
	for i := 1; i <= 5; i++ {
		i := i
		ok := d.Push(func() { got = append(got, i) })
		if i <= 3 && !ok {
			t.Errorf("push %d reported displacement on non-full queue", i)
		}
		if i > 3 && ok {
			t.Errorf("push %d should have displaced the oldest", i)
		}
	}

	d.RunBatch()
	// Tasks 1 and 2 were displaced; 3, 4, 5 survive in order.
	if len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Errorf("surviving tasks = %v, want [3 4 5]", got)
	}
	if drops != 2 {
		t.Errorf("drop hook fired %d times, want 2", drops)
	}
	if d.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", d.Dropped())
	}
}

func TestDeferredTasksMayPushMore(t *testing.T) {
	d := NewDeferred(8, 8)
	second := false
	d.Push(func() {
		d.Push(func() { second = true })
	})

	d.RunBatch()
	if second {
		t.Error("nested task ran in the same batch")
	}
	d.RunBatch()
	if !second {
		t.Error("nested task never ran")
	}
}
