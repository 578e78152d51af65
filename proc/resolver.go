package proc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leeineian/melody/sys"
	"golang.org/x/sync/singleflight"
)

// downloadTimeout bounds a shared download once its callers have gone.
const downloadTimeout = 10 * time.Minute

// Resolver turns a query or content id into a playable Track, preferring
// the local cache over the network.
type Resolver struct {
	ex     Extractor
	cache  *CacheStore
	stream bool
	logger *slog.Logger

	downloads singleflight.Group
}

func NewResolver(ex Extractor, cache *CacheStore, stream bool, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = sys.ComponentLogger("music")
	}
	return &Resolver{ex: ex, cache: cache, stream: stream, logger: logger}
}

// Resolve accepts a URL or free text. Free text becomes a single-result
// search, and only the first entry of any multi-entry response is used.
func (r *Resolver) Resolve(ctx context.Context, query string) (*Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &ResolutionError{Query: query, Err: &ValidationError{Field: "query", Reason: "empty"}}
	}

	meta, err := r.ex.Lookup(ctx, query)
	if err != nil {
		return nil, &ResolutionError{Query: query, Err: err}
	}
	return r.bind(ctx, query, meta)
}

// ResolveByID resolves a known content id.
func (r *Resolver) ResolveByID(ctx context.Context, id string) (*Track, error) {
	meta, err := r.ex.Lookup(ctx, watchURL(id))
	if err != nil {
		return nil, &ResolutionError{Query: id, Err: err}
	}
	return r.bind(ctx, id, meta)
}

// Rebind returns a fresh playable copy of t. Cached tracks are returned
// as-is while the file exists; stream tracks get a new reference.
func (r *Resolver) Rebind(ctx context.Context, t *Track) (*Track, error) {
	if t.Cached {
		if e, ok := r.cache.Lookup(t.ID); ok && e.Path == t.Source {
			return t, nil
		}
	}
	meta := *t
	meta.Source, meta.Cached = "", false
	return r.bind(ctx, t.ID, &meta)
}

func (r *Resolver) bind(ctx context.Context, query string, meta *Track) (*Track, error) {
	if meta == nil || meta.ID == "" {
		return nil, &ResolutionError{Query: query, Err: errNoResult}
	}
	t := *meta

	if e, ok := r.cache.Lookup(t.ID); ok {
		t.Source, t.Cached = e.Path, true
		return &t, nil
	}

	if r.stream {
		u, err := r.ex.StreamURL(ctx, t.ID)
		if err == nil {
			t.Source, t.Cached = u, false
			return &t, nil
		}
		r.logger.Warn(fmt.Sprintf("Stream lookup failed for %s, downloading instead: %v", t.ID, err))
	}

	// The download is shared by every caller waiting on this id, so it runs
	// detached from ctx; each caller stops waiting on its own deadline.
	ch := r.downloads.DoChan(t.ID, func() (any, error) {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), downloadTimeout)
		defer cancel()
		if err := r.cache.EnsureRoot(); err != nil {
			return "", err
		}
		path, err := r.ex.Download(dctx, t.ID, r.cache.Root())
		if err != nil {
			return "", err
		}
		r.cache.Dedupe(t.ID, path)
		return path, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, &ResolutionError{Query: query, Err: res.Err}
		}
		t.Source, t.Cached = res.Val.(string), true
		return &t, nil
	case <-ctx.Done():
		return nil, &ResolutionError{Query: query, Err: ctx.Err()}
	}
}
