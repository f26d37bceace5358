package results

import (
	"sync"
	"testing"
	"time"

	"poolnet"
)

type collector struct {
	mu   sync.Mutex
	got  []string
	gate chan struct{}
}

func (c *collector) OnJobResult(r poolnet.JobResult) {
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	c.got = append(c.got, r.JobID)
	c.mu.Unlock()
}

func (c *collector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.got...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestQueueDeliversInOrder(t *testing.T) {
	q := New(8)
	defer q.Stop()
	c := &collector{}
	q.SetListener(c)

	for _, id := range []string{"a", "b", "c"} {
		if !q.Submit(poolnet.JobResult{JobID: id}) {
			t.Fatalf("Submit(%s) dropped", id)
		}
	}
	waitFor(t, func() bool { return len(c.ids()) == 3 })
	got := c.ids()
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("delivered %v", got)
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := New(1)
	c := &collector{gate: make(chan struct{})}
	q.SetListener(c)

	q.Submit(poolnet.JobResult{JobID: "in-flight"})
	waitFor(t, func() bool { return len(q.in) == 0 })
	q.Submit(poolnet.JobResult{JobID: "buffered"})
	if q.Submit(poolnet.JobResult{JobID: "dropped"}) {
		t.Error("Submit on a full queue should report a drop")
	}
	if q.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", q.Dropped())
	}
	close(c.gate)
	waitFor(t, func() bool { return len(c.ids()) == 2 })
	q.Stop()
}

func TestQueueStop(t *testing.T) {
	q := New(4)
	c := &collector{}
	q.SetListener(c)
	q.Stop()
	q.Stop()

	if q.Submit(poolnet.JobResult{JobID: "late"}) {
		t.Error("Submit after Stop accepted a result")
	}
	time.Sleep(10 * time.Millisecond)
	if len(c.ids()) != 0 {
		t.Errorf("delivered after Stop: %v", c.ids())
	}
}
