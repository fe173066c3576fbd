package report

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/saker-ai/audiosync/pkg/drift"
	"github.com/saker-ai/audiosync/pkg/stream"
)

func sample(finished time.Time) *Report {
	r := New("simulated", "linear")
	r.Finished = finished
	r.Inputs = []Input{{
		Path:  "a.wav",
		Group: "main",
		State: "ended",
		Stats: stream.Stats{ID: "a", PacketsEmitted: 12, Resyncs: 1, Phase: drift.PhaseSteady, Ended: true},
	}}
	return r
}

func TestStoreSaveGetListDelete(t *testing.T) {
	store := Store{BaseDir: t.TempDir()}
	older := sample(time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))
	newer := sample(time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC))

	oldUID, err := store.Save(older)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	newUID, err := store.Save(newer)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(oldUID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RunID != older.RunID || len(got.Inputs) != 1 {
		t.Fatalf("report=%+v", got)
	}
	in := got.Inputs[0]
	if in.Stats.PacketsEmitted != 12 || in.Stats.Phase != drift.PhaseSteady || !in.Stats.Ended {
		t.Fatalf("stats=%+v", in.Stats)
	}

	list := store.List()
	if len(list) != 2 || list[0].UID != newUID || list[1].UID != oldUID {
		t.Fatalf("list=%+v", list)
	}

	if !store.Delete(oldUID) {
		t.Fatal("Delete=false, want true")
	}
	if store.Delete(oldUID) {
		t.Fatal("second Delete=true, want false")
	}
	if len(store.List()) != 1 {
		t.Fatalf("list after delete=%+v", store.List())
	}
}

func TestStoreRejectsUnsafeUID(t *testing.T) {
	store := Store{BaseDir: t.TempDir()}
	if _, err := store.Get("../etc/passwd"); err == nil {
		t.Fatal("Get(unsafe) error=nil, want error")
	}
	if store.Delete("a/b") {
		t.Fatal("Delete(unsafe)=true, want false")
	}
	if _, err := (Store{}).Save(sample(time.Now())); err == nil {
		t.Fatal("Save without base dir error=nil, want error")
	}
}

func TestWriteFileCreatesDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "run.yaml")
	r := sample(time.Now().UTC())
	r.Settings = map[string]string{"queue_size": "9"}
	if err := WriteFile(path, r); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got.Settings["queue_size"] != "9" || got.Engine != "linear" || got.Clock != "simulated" {
		t.Fatalf("report=%+v", got)
	}
}
