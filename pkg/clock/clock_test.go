package clock

import (
	"sync"
	"testing"
	"time"
)

func TestManualReadWrite(t *testing.T) {
	c := NewManual(1.5)
	if got := c.Read(); got != 1.5 {
		t.Fatalf("Read=%v, want 1.5", got)
	}
	c.Write(10)
	c.Advance(0.25)
	if got := c.Read(); got != 10.25 {
		t.Fatalf("Read=%v, want 10.25", got)
	}
	if got := c.Writes(); got != 1 {
		t.Fatalf("Writes=%d, want 1", got)
	}
}

func TestManualConcurrentAccess(t *testing.T) {
	c := NewManual(0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Advance(1)
				_ = c.Read()
			}
		}()
	}
	wg.Wait()
	if got := c.Read(); got != 800 {
		t.Fatalf("Read=%v, want 800", got)
	}
}

func TestWallClock(t *testing.T) {
	now := time.Unix(100, 0)
	c := newWall(func() time.Time { return now })

	now = now.Add(2 * time.Second)
	if got := c.Read(); got != 2 {
		t.Fatalf("Read=%v, want 2", got)
	}

	c.Write(30)
	now = now.Add(500 * time.Millisecond)
	if got := c.Read(); got != 30.5 {
		t.Fatalf("Read=%v, want 30.5", got)
	}

	c.SetRate(2)
	now = now.Add(time.Second)
	if got := c.Read(); got != 32.5 {
		t.Fatalf("Read=%v, want 32.5", got)
	}

	c.SetRate(-1)
	now = now.Add(time.Second)
	if got := c.Read(); got != 34.5 {
		t.Fatalf("Read=%v after invalid rate, want 34.5", got)
	}
}
