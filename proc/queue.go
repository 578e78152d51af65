package proc

// Seed is the title/uploader pair radio discovery starts from.
type Seed struct {
	ID       string
	Title    string
	Uploader string
}

func (s Seed) IsZero() bool {
	return s.ID == "" && s.Title == ""
}

// Queue is a guild's pending tracks plus the current track and modes.
// It is not safe for concurrent use; the owning player serializes access.
type Queue struct {
	pending []*Track
	current *Track
	loop    bool
	radio   bool
	seed    Seed
}

func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends a track and returns its 1-based position.
func (q *Queue) Enqueue(t *Track) int {
	q.pending = append(q.pending, t)
	return len(q.pending)
}

// Advance replays the current track when loop is on. Otherwise it pops the
// head of the pending list. An empty list returns nil and leaves current
// untouched so it can still seed radio discovery.
func (q *Queue) Advance() *Track {
	if q.loop && q.current != nil {
		return q.current
	}
	return q.Skip()
}

// Skip pops the head of the pending list regardless of loop.
func (q *Queue) Skip() *Track {
	if len(q.pending) == 0 {
		return nil
	}
	next := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.current = next
	return next
}

// RemoveAt removes the track at a 1-based pending position.
func (q *Queue) RemoveAt(position int) (*Track, error) {
	if position < 1 || position > len(q.pending) {
		return nil, &InvalidPositionError{Position: position, Size: len(q.pending)}
	}
	idx := position - 1
	removed := q.pending[idx]
	q.pending = append(q.pending[:idx:idx], q.pending[idx+1:]...)
	return removed, nil
}

// Clear is the full reset performed by stop: pending, current, radio mode
// and radio seed are all dropped.
func (q *Queue) Clear() {
	q.pending = nil
	q.current = nil
	q.radio = false
	q.seed = Seed{}
}

// Snapshot returns a copy of the pending tracks in play order.
func (q *Queue) Snapshot() []*Track {
	out := make([]*Track, len(q.pending))
	copy(out, q.pending)
	return out
}

func (q *Queue) Size() int {
	return len(q.pending)
}

func (q *Queue) Current() *Track {
	return q.current
}

// DropCurrent forgets the current track without touching pending, used when
// the current track failed to start.
func (q *Queue) DropCurrent() {
	q.current = nil
}

// ReplaceCurrent swaps the current track for a re-resolved copy.
func (q *Queue) ReplaceCurrent(t *Track) {
	q.current = t
}

func (q *Queue) Loop() bool { return q.loop }

func (q *Queue) SetLoop(on bool) { q.loop = on }

func (q *Queue) Radio() bool { return q.radio }

// SetRadio toggles radio mode. Turning it off clears the seed.
func (q *Queue) SetRadio(on bool) {
	q.radio = on
	if !on {
		q.seed = Seed{}
	}
}

func (q *Queue) Seed() Seed { return q.seed }

func (q *Queue) SetSeed(s Seed) { q.seed = s }

// RadioSeed returns the seed for the next discovery cycle: the retained
// current track if any, otherwise the stored seed.
func (q *Queue) RadioSeed() Seed {
	if q.current != nil {
		return Seed{ID: q.current.ID, Title: q.current.Title, Uploader: q.current.Uploader}
	}
	return q.seed
}
