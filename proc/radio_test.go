package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
)

type fakeSearcher struct {
	mu      sync.Mutex
	results map[string][]Candidate
	err     error
	queries []string
}

func (f *fakeSearcher) Search(ctx context.Context, q string, limit int) ([]Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return f.results[q], nil
}

func (f *fakeSearcher) asked(q string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, got := range f.queries {
		if got == q {
			return true
		}
	}
	return false
}

type fakeRelater struct {
	entries []Candidate
	err     error
}

func (f *fakeRelater) RelatedEntries(ctx context.Context, id string, limit int) ([]Candidate, error) {
	return f.entries, f.err
}

var radioSeed = Seed{ID: "seed0000001", Title: "Band - Song Title (Official Video)", Uploader: "BandVEVO"}

func newTestRadio(s Searcher, r Relater) *RadioDiscovery {
	return NewRadioDiscovery(s, r, 0.7, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func cand(id, title string) Candidate {
	return Candidate{ID: id, Title: title, Uploader: "Band"}
}

func candidateIDs(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func TestSeedArtist(t *testing.T) {
	t.Parallel()
	artist, song := seedArtist(radioSeed)
	if artist != "Band" || song != "Song Title" {
		t.Fatalf("seedArtist = %q, %q", artist, song)
	}
	artist, song = seedArtist(Seed{Title: "Lonely Tune", Uploader: "Singer - Topic"})
	if artist != "Singer" || song != "Lonely Tune" {
		t.Fatalf("seedArtist from uploader = %q, %q", artist, song)
	}
}

func TestFindRelatedFiltersCandidates(t *testing.T) {
	t.Parallel()
	s := &fakeSearcher{results: map[string][]Candidate{
		"Band songs": {
			cand("seed0000001", "Band - Song Title"),
			cand("dup", "song title official video"),
			cand("nightcore", "Other Song (Nightcore)"),
			cand("good1", "Different Tune"),
			cand("samekey", "Different Tune (Acoustic)"),
			cand("lyrics", "Another One (Lyrics)"),
		},
		"Band similar to Song Title": {
			cand("good1", "Different Tune"),
			cand("played", "Recently Heard"),
			cand("good2", "Brand New Day"),
		},
	}}
	d := newTestRadio(s, nil)

	got, err := d.FindRelated(context.Background(), radioSeed, []string{"played"}, 3)
	if err != nil {
		t.Fatalf("FindRelated failed: %v", err)
	}
	ids := candidateIDs(got)
	if len(ids) < 2 || ids[0] != "good1" || ids[1] != "good2" {
		t.Fatalf("accepted = %v, want good1 and good2 first", ids)
	}
	for _, id := range ids {
		switch id {
		case "seed0000001", "dup", "nightcore", "samekey", "lyrics", "played":
			t.Fatalf("rejected candidate %q was accepted: %v", id, ids)
		}
	}
}

func TestFindRelatedCapsAtThree(t *testing.T) {
	t.Parallel()
	var many []Candidate
	words := []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf", "hotel", "india", "juliet"}
	for i, w := range words {
		many = append(many, cand(fmt.Sprintf("id%d", i), w+" anthem"))
	}
	s := &fakeSearcher{results: map[string][]Candidate{"Band songs": many}}
	d := newTestRadio(s, nil)

	got, err := d.FindRelated(context.Background(), radioSeed, nil, 10)
	if err != nil {
		t.Fatalf("FindRelated failed: %v", err)
	}
	if len(got) != MaxRadioTracksPerCycle {
		t.Fatalf("accepted %d tracks, want cap of %d", len(got), MaxRadioTracksPerCycle)
	}
}

func TestFindRelatedUsesMixListFirst(t *testing.T) {
	t.Parallel()
	s := &fakeSearcher{results: map[string][]Candidate{
		"Band songs": {cand("search1", "Search Pick")},
	}}
	r := &fakeRelater{entries: []Candidate{cand("mix1", "Mix Pick"), cand("mix2", "Second Mix Pick Here")}}
	d := newTestRadio(s, r)

	got, err := d.FindRelated(context.Background(), radioSeed, nil, 3)
	if err != nil {
		t.Fatalf("FindRelated failed: %v", err)
	}
	ids := candidateIDs(got)
	if len(ids) != 3 || ids[0] != "mix1" || ids[1] != "mix2" || ids[2] != "search1" {
		t.Fatalf("accepted = %v, want mix list entries first", ids)
	}
}

func TestFindRelatedRejectsVariantsOfVariantSeed(t *testing.T) {
	t.Parallel()
	seed := Seed{ID: "seed0000002", Title: "Band - Seed Song (Live Cover)", Uploader: "Band"}
	r := &fakeRelater{entries: []Candidate{
		cand("live", "Band - Other Song (Live at Wembley)"),
		cand("cover", "Band - Third Song (Acoustic Cover)"),
		cand("studio", "Band - Fourth Song"),
	}}
	d := newTestRadio(&fakeSearcher{}, r)

	got, err := d.FindRelated(context.Background(), seed, nil, 3)
	if err != nil {
		t.Fatalf("FindRelated failed: %v", err)
	}
	ids := candidateIDs(got)
	if len(ids) != 1 || ids[0] != "studio" {
		t.Fatalf("accepted = %v, want only studio", ids)
	}
}

func TestFindRelatedFallback(t *testing.T) {
	t.Parallel()
	s := &fakeSearcher{results: map[string][]Candidate{
		"Band songs":         {cand("a", "First Find")},
		"Band popular songs": {cand("b", "Second Find"), cand("c", "Third Find Again")},
	}}
	d := newTestRadio(s, nil)

	got, err := d.FindRelated(context.Background(), radioSeed, nil, 3)
	if err != nil {
		t.Fatalf("FindRelated failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("accepted = %v, want fallback to fill to 3", candidateIDs(got))
	}
	if !s.asked("Band popular songs") {
		t.Fatal("fallback query was not issued")
	}
	if s.asked("Band hits") {
		t.Fatal("fallback should stop once the cycle is full")
	}
}

func TestFindRelatedEmptyIsNotAnError(t *testing.T) {
	t.Parallel()
	s := &fakeSearcher{err: errors.New("quota")}
	d := newTestRadio(s, &fakeRelater{err: errors.New("no mix")})

	got, err := d.FindRelated(context.Background(), radioSeed, nil, 3)
	if err != nil {
		t.Fatalf("empty discovery should not error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("accepted = %v, want none", candidateIDs(got))
	}

	got, err = d.FindRelated(context.Background(), Seed{}, nil, 3)
	if err != nil || got != nil {
		t.Fatalf("zero seed = %v, %v", got, err)
	}
}
