package proc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
)

// Candidate is a search hit that has not been resolved yet.
type Candidate struct {
	ID       string
	Title    string
	Uploader string
	Duration time.Duration
}

func (c Candidate) URL() string {
	return watchURL(c.ID)
}

// Searcher returns up to limit candidates for a free text query.
type Searcher interface {
	Search(ctx context.Context, q string, limit int) ([]Candidate, error)
}

// SearchFunc adapts a plain function to Searcher.
type SearchFunc func(ctx context.Context, q string, limit int) ([]Candidate, error)

func (f SearchFunc) Search(ctx context.Context, q string, limit int) ([]Candidate, error) {
	return f(ctx, q, limit)
}

// MusicSearcher queries the music catalogue, which returns songs rather
// than uploads and tends to carry clean artist names.
type MusicSearcher struct{}

func (MusicSearcher) Search(ctx context.Context, q string, limit int) ([]Candidate, error) {
	type result struct {
		res *ytmusic.SearchResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		r, err := ytmusic.TrackSearch(q).Next()
		done <- result{r, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r = <-done:
	}
	if r.err != nil {
		return nil, r.err
	}

	var out []Candidate
	for _, v := range r.res.Tracks {
		if v.VideoID == "" {
			continue
		}
		c := Candidate{ID: v.VideoID, Title: v.Title}
		if len(v.Artists) > 0 {
			c.Uploader = v.Artists[0].Name
		}
		out = append(out, c)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// VideoSearcher scrapes the regular video search.
type VideoSearcher struct{}

func (VideoSearcher) Search(ctx context.Context, q string, limit int) ([]Candidate, error) {
	c := ytsearch.NewClient(nil)
	r, err := c.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, v := range r.Results {
		if v.VideoID == "" {
			continue
		}
		out = append(out, Candidate{
			ID:       v.VideoID,
			Title:    v.Title,
			Uploader: v.Channel,
			Duration: parseDurationColon(v.Duration),
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ChainSearcher tries each backend in order and returns the first non-empty
// result. Errors only surface when every backend failed.
type ChainSearcher []Searcher

func (c ChainSearcher) Search(ctx context.Context, q string, limit int) ([]Candidate, error) {
	var errs []error
	for _, s := range c {
		res, err := s.Search(ctx, q, limit)
		if err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if len(res) > 0 {
			return res, nil
		}
	}
	if len(errs) == len(c) && len(errs) > 0 {
		return nil, fmt.Errorf("search %q: %w", q, errors.Join(errs...))
	}
	return nil, nil
}

// NewDefaultSearcher chains the catalogue, video search and yt-dlp.
func NewDefaultSearcher(ex *YtdlpExtractor) Searcher {
	chain := ChainSearcher{MusicSearcher{}, VideoSearcher{}}
	if ex != nil {
		chain = append(chain, SearchFunc(ex.SearchEntries))
	}
	return chain
}

// Suggest merges catalogue and video results for autocomplete, catalogue
// first, deduplicated by id.
func Suggest(ctx context.Context, q string, limit int) []Candidate {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil
	}

	type batch struct {
		cs []Candidate
	}
	musicCh, videoCh := make(chan batch, 1), make(chan batch, 1)
	go func() {
		cs, _ := MusicSearcher{}.Search(ctx, q, limit)
		musicCh <- batch{cs}
	}()
	go func() {
		cs, _ := VideoSearcher{}.Search(ctx, q, limit)
		videoCh <- batch{cs}
	}()

	var music, video []Candidate
collect:
	for i := 0; i < 2; i++ {
		select {
		case b := <-musicCh:
			music = b.cs
		case b := <-videoCh:
			video = b.cs
		case <-ctx.Done():
			break collect
		}
	}

	seen := make(map[string]bool)
	var out []Candidate
	for _, c := range append(music, video...) {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
		if len(out) >= limit {
			break
		}
	}
	return out
}
