package group

import (
	"errors"
	"testing"

	"github.com/saker-ai/audiosync/pkg/audio"
	"github.com/saker-ai/audiosync/pkg/clock"
	"github.com/saker-ai/audiosync/pkg/codec"
	"github.com/saker-ai/audiosync/pkg/stream"
)

func newStream(t *testing.T, id string, index int, clk clock.Clock) *stream.AudioStream {
	t.Helper()
	s, err := stream.New(stream.Descriptor{
		Index: index,
		ID:    id,
		Codec: codec.Params{Codec: "pcm", Format: audio.SampleFormatS16, Layout: audio.LayoutStereo, Rate: 48000},
	}, clk, stream.Callbacks{}, stream.Options{})
	if err != nil {
		t.Fatalf("stream.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager()
	clk := clock.NewManual(3)
	if _, err := m.Create("g1", clk); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Create("g1", clk); !errors.Is(err, ErrGroupExists) {
		t.Fatalf("err=%v, want %v", err, ErrGroupExists)
	}

	a := newStream(t, "a", 0, clk)
	b := newStream(t, "b", 1, clk)
	if err := m.AddStream("g1", b); err != nil {
		t.Fatalf("AddStream b: %v", err)
	}
	if err := m.AddStream("g1", a); err != nil {
		t.Fatalf("AddStream a: %v", err)
	}
	if err := m.AddStream("g1", a); !errors.Is(err, ErrStreamExists) {
		t.Fatalf("err=%v, want %v", err, ErrStreamExists)
	}
	if err := m.AddStream("nope", a); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("err=%v, want %v", err, ErrGroupNotFound)
	}

	if got := m.Members("g1"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("members=%v, want [a b]", got)
	}
	if got, ok := m.Clock("g1"); !ok || got.Read() != 3 {
		t.Fatalf("clock lookup failed")
	}

	snaps := m.Snapshot()
	if len(snaps) != 1 || snaps[0].Clock != 3 || len(snaps[0].Streams) != 2 {
		t.Fatalf("snapshot=%+v", snaps)
	}
	if snaps[0].Streams[0].ID != "a" {
		t.Fatalf("first stream=%s, want a", snaps[0].Streams[0].ID)
	}

	if err := m.SetDrop("g1", true); err != nil {
		t.Fatalf("SetDrop: %v", err)
	}
	if !a.Dropping() || !b.Dropping() {
		t.Fatal("drop flag not applied to every stream")
	}

	if rest := m.RemoveStream("a"); len(rest) != 1 || rest[0] != "b" {
		t.Fatalf("remaining=%v, want [b]", rest)
	}
	if _, ok := m.Stream("a"); ok {
		t.Fatal("removed stream still found")
	}
	if rest := m.RemoveStream("b"); rest != nil {
		t.Fatalf("remaining=%v, want nil", rest)
	}
	if len(m.Snapshot()) != 0 {
		t.Fatal("empty group not removed")
	}
}
