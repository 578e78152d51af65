package proc

import (
	"errors"
	"testing"
)

func tracks(ids ...string) []*Track {
	out := make([]*Track, len(ids))
	for i, id := range ids {
		out[i] = &Track{ID: id, Title: "title " + id, Cached: true, Source: id + ".webm"}
	}
	return out
}

func ids(ts []*Track) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}

func TestQueueAdvanceFIFO(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	for i, tr := range tracks("a", "b", "c") {
		if pos := q.Enqueue(tr); pos != i+1 {
			t.Fatalf("Enqueue position = %d, want %d", pos, i+1)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		got := q.Advance()
		if got == nil || got.ID != want {
			t.Fatalf("Advance = %v, want %s", got, want)
		}
	}
	if got := q.Advance(); got != nil {
		t.Fatalf("Advance on empty queue = %s, want nil", got.ID)
	}
}

func TestQueueExhaustionKeepsCurrent(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	q.Enqueue(tracks("a")[0])
	q.Advance()

	if q.Advance() != nil {
		t.Fatal("expected nil from exhausted queue")
	}
	if cur := q.Current(); cur == nil || cur.ID != "a" {
		t.Fatalf("current = %v, want a retained for radio seed", cur)
	}
	if seed := q.RadioSeed(); seed.ID != "a" || seed.Title != "title a" {
		t.Fatalf("radio seed = %+v, want track a", seed)
	}
}

func TestQueueLoopReplaysCurrent(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	ts := tracks("a", "b")
	q.Enqueue(ts[0])
	q.Enqueue(ts[1])
	first := q.Advance()
	q.SetLoop(true)

	for i := 0; i < 3; i++ {
		if got := q.Advance(); got != first {
			t.Fatalf("loop advance %d returned %v, want same track", i, got)
		}
	}
	if q.Size() != 1 {
		t.Fatalf("loop consumed pending tracks: size=%d", q.Size())
	}

	q.SetLoop(false)
	if got := q.Advance(); got == nil || got.ID != "b" {
		t.Fatalf("Advance after loop off = %v, want b", got)
	}
}

func TestQueueSkipIgnoresLoop(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	for _, tr := range tracks("a", "b") {
		q.Enqueue(tr)
	}
	q.Advance()
	q.SetLoop(true)

	if got := q.Skip(); got == nil || got.ID != "b" {
		t.Fatalf("Skip = %v, want b", got)
	}
	if !q.Loop() {
		t.Fatal("skip must not change loop flag")
	}
}

func TestQueueRemoveAtOutOfRange(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	for _, tr := range tracks("a", "b", "c") {
		q.Enqueue(tr)
	}
	before := ids(q.Snapshot())

	for _, pos := range []int{0, -1, 4, 100} {
		removed, err := q.RemoveAt(pos)
		var posErr *InvalidPositionError
		if !errors.As(err, &posErr) {
			t.Fatalf("RemoveAt(%d) error = %v, want InvalidPositionError", pos, err)
		}
		if posErr.Size != 3 {
			t.Fatalf("error size = %d, want 3", posErr.Size)
		}
		if removed != nil {
			t.Fatalf("RemoveAt(%d) returned a track", pos)
		}
	}

	after := ids(q.Snapshot())
	if len(after) != len(before) {
		t.Fatalf("queue mutated: %v -> %v", before, after)
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("queue mutated: %v -> %v", before, after)
		}
	}
}

func TestQueueRemoveAt(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	for _, tr := range tracks("a", "b", "c") {
		q.Enqueue(tr)
	}
	snap := q.Snapshot()

	removed, err := q.RemoveAt(2)
	if err != nil {
		t.Fatalf("RemoveAt failed: %v", err)
	}
	if removed.ID != "b" {
		t.Fatalf("removed %s, want b", removed.ID)
	}
	if got := ids(q.Snapshot()); len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("pending = %v, want [a c]", got)
	}
	if ids(snap)[1] != "b" {
		t.Fatal("snapshot shares backing array with queue")
	}
}

func TestQueueClearResetsRadio(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	for _, tr := range tracks("a", "b") {
		q.Enqueue(tr)
	}
	q.Advance()
	q.SetRadio(true)
	q.SetSeed(Seed{Title: "seed"})

	q.Clear()

	if q.Size() != 0 || q.Current() != nil {
		t.Fatalf("clear left state: size=%d current=%v", q.Size(), q.Current())
	}
	if q.Radio() {
		t.Fatal("clear must disable radio mode")
	}
	if !q.Seed().IsZero() {
		t.Fatalf("clear must drop seed, got %+v", q.Seed())
	}
}
