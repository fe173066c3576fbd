package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/saker-ai/audiosync/pkg/audio"
	"github.com/saker-ai/audiosync/pkg/clock"
	"github.com/saker-ai/audiosync/pkg/codec"
)

func TestRunnerDeliversInOrderThenEOS(t *testing.T) {
	s, rec := newPCMStream(t, audio.SampleFormatS16, audio.LayoutStereo, clock.NewManual(0))
	r := NewRunner(s, 0)
	ctx := context.Background()

	buf := s16Packet(testSamples, 2, 0)
	for i := 0; i < 3; i++ {
		if err := r.Enqueue(ctx, codec.Packet{Data: buf, PTS: int64(i * testSamples)}); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
		// Enqueue copies, so reusing buf must not alter queued packets.
		buf[0]++
	}
	r.Finish()

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rec.packets) != 3 || rec.eos != 1 {
		t.Fatalf("packets=%d eos=%d, want 3 and 1", len(rec.packets), rec.eos)
	}
	for i, p := range rec.packets {
		if want := int64(i * testSamples); p.PTS != want {
			t.Fatalf("packet %d pts=%d, want %d", i, p.PTS, want)
		}
		if p.Buffer[0] != byte(i) {
			t.Fatalf("packet %d first byte=%d, want %d", i, p.Buffer[0], i)
		}
	}
	if err := r.Enqueue(ctx, codec.Packet{Data: buf}); !errors.Is(err, ErrRunnerClosed) {
		t.Fatalf("Enqueue after Finish err=%v, want %v", err, ErrRunnerClosed)
	}
}

func TestRunnerEnqueueHonoursContext(t *testing.T) {
	s, _ := newPCMStream(t, audio.SampleFormatS16, audio.LayoutStereo, clock.NewManual(0))
	r := NewRunner(s, 1)

	if err := r.Enqueue(context.Background(), codec.Packet{Data: s16Packet(testSamples, 2, 0)}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Enqueue(ctx, codec.Packet{Data: s16Packet(testSamples, 2, 0)}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want %v", err, context.Canceled)
	}
}

func TestRunAllSharesClock(t *testing.T) {
	clk := clock.NewManual(0)
	a, recA := newPCMStream(t, audio.SampleFormatS16, audio.LayoutStereo, clk)
	b, recB := newPCMStream(t, audio.SampleFormatS16, audio.LayoutMono, clk)
	ra, rb := NewRunner(a, 4), NewRunner(b, 4)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := ra.Enqueue(ctx, codec.Packet{Data: s16Packet(testSamples, 2, 0), PTS: int64(i * testSamples)}); err != nil {
			t.Fatalf("Enqueue a: %v", err)
		}
		if err := rb.Enqueue(ctx, codec.Packet{Data: s16Packet(testSamples, 1, 0), PTS: int64(i * testSamples)}); err != nil {
			t.Fatalf("Enqueue b: %v", err)
		}
	}
	ra.Finish()
	rb.Finish()

	if err := RunAll(ctx, ra, rb); err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if len(recA.packets) != 2 || len(recB.packets) != 2 {
		t.Fatalf("packets a=%d b=%d, want 2 each", len(recA.packets), len(recB.packets))
	}
	if recB.packets[0].Caps.Layout != audio.LayoutMono {
		t.Fatalf("layout=%s, want mono", recB.packets[0].Caps.Layout)
	}
	if recA.eos != 1 || recB.eos != 1 {
		t.Fatalf("eos a=%d b=%d, want 1 each", recA.eos, recB.eos)
	}
}
