package proc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leeineian/melody/sys"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// MaxRadioTracksPerCycle bounds how many tracks one discovery cycle adds.
const MaxRadioTracksPerCycle = 3

// Relater lists tracks the platform itself considers related to an id.
type Relater interface {
	RelatedEntries(ctx context.Context, id string, limit int) ([]Candidate, error)
}

// RadioDiscovery finds tracks related to a seed for radio mode.
type RadioDiscovery struct {
	search  Searcher
	related Relater
	limiter *rate.Limiter
	logger  *slog.Logger

	Threshold float64
	// Similarity builds the scoring function from the titles seen in one
	// cycle.
	Similarity func(corpus []string) SimilarityFunc
	PerQuery   int
}

func NewRadioDiscovery(search Searcher, related Relater, threshold, searchesPerSecond float64, logger *slog.Logger) *RadioDiscovery {
	if logger == nil {
		logger = sys.ComponentLogger("radio")
	}
	limit := rate.Inf
	if searchesPerSecond > 0 {
		limit = rate.Limit(searchesPerSecond)
	}
	return &RadioDiscovery{
		search:     search,
		related:    related,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
		Threshold:  threshold,
		Similarity: WeightedOverlap,
		PerQuery:   10,
	}
}

// seedArtist splits a seed into an artist and a song title. "Artist - Song"
// titles win over the uploader, which is often a label or an auto channel.
func seedArtist(seed Seed) (artist, song string) {
	title := strings.TrimSpace(bracketRegex.ReplaceAllString(seed.Title, " "))
	for _, sep := range []string{" - ", " – ", " ─ "} {
		if before, after, ok := strings.Cut(title, sep); ok && strings.TrimSpace(before) != "" {
			return strings.TrimSpace(before), strings.TrimSpace(after)
		}
	}
	return cleanUploader(seed.Uploader), title
}

// radioFilter applies the acceptance pipeline to candidates in order.
type radioFilter struct {
	seed     Seed
	seedNorm string
	matcher  *Matcher
	excluded map[string]bool
	keys     map[string]bool
	accepted []Candidate
	want     int
}

func (f *radioFilter) full() bool {
	return len(f.accepted) >= f.want
}

func (f *radioFilter) offer(c Candidate) bool {
	if f.full() || c.ID == "" || c.ID == f.seed.ID || f.excluded[c.ID] {
		return false
	}
	norm := normalizeTitle(c.Title, c.Uploader)
	if norm == "" || f.matcher.NearDuplicate(norm, f.seedNorm) {
		return false
	}
	if isVariant(c.Title) {
		return false
	}
	key := titleKey(norm)
	if key == "" || f.keys[key] {
		return false
	}

	f.excluded[c.ID] = true
	f.keys[key] = true
	f.accepted = append(f.accepted, c)
	return true
}

func (d *RadioDiscovery) query(ctx context.Context, q string) []Candidate {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil
	}
	res, err := d.search.Search(ctx, q, d.PerQuery)
	if err != nil {
		d.logger.Warn(fmt.Sprintf(sys.MsgRadioSearchFail, q, err))
		return nil
	}
	return res
}

// FindRelated returns up to count candidates related to seed, never more
// than MaxRadioTracksPerCycle. Ids in exclude are skipped. An empty result
// is not an error.
func (d *RadioDiscovery) FindRelated(ctx context.Context, seed Seed, exclude []string, count int) ([]Candidate, error) {
	if seed.IsZero() {
		return nil, nil
	}
	if count <= 0 || count > MaxRadioTracksPerCycle {
		count = MaxRadioTracksPerCycle
	}

	artist, song := seedArtist(seed)
	d.logger.Info(fmt.Sprintf(sys.MsgRadioSearching, song, artist))

	var queries []string
	if artist != "" {
		queries = []string{artist + " songs", artist + " similar to " + song}
	} else {
		queries = []string{"songs like " + song}
	}

	// Slot 0 is the mix list, the rest follow queries.
	batches := make([][]Candidate, len(queries)+1)
	g, gctx := errgroup.WithContext(ctx)
	if seed.ID != "" && d.related != nil {
		g.Go(func() error {
			res, err := d.related.RelatedEntries(gctx, seed.ID, d.PerQuery)
			if err != nil {
				d.logger.Warn(fmt.Sprintf(sys.MsgRadioSearchFail, "mix:"+seed.ID, err))
				return nil
			}
			batches[0] = res
			return nil
		})
	}
	for i, q := range queries {
		g.Go(func() error {
			batches[i+1] = d.query(gctx, q)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var corpus []string
	for _, b := range batches {
		for _, c := range b {
			corpus = append(corpus, normalizeTitle(c.Title, c.Uploader))
		}
	}
	seedNorm := normalizeTitle(seed.Title, seed.Uploader)
	corpus = append(corpus, seedNorm)

	f := &radioFilter{
		seed:     seed,
		seedNorm: seedNorm,
		matcher:  NewMatcher(d.Threshold, d.Similarity(corpus)),
		excluded: make(map[string]bool, len(exclude)),
		keys:     map[string]bool{titleKey(seedNorm): true},
		want:     count,
	}
	for _, id := range exclude {
		f.excluded[id] = true
	}

	total := 0
	for _, b := range batches {
		total += len(b)
		for _, c := range b {
			f.offer(c)
		}
	}

	if !f.full() && artist != "" {
		d.logger.Info(fmt.Sprintf(sys.MsgRadioFallback, len(f.accepted), count, artist))
		for _, q := range []string{artist + " popular songs", artist + " best songs", artist + " hits"} {
			if f.full() || ctx.Err() != nil {
				break
			}
			res := d.query(ctx, q)
			total += len(res)
			for _, c := range res {
				f.offer(c)
			}
		}
	}

	d.logger.Info(fmt.Sprintf(sys.MsgRadioAccepted, len(f.accepted), total, song))
	return f.accepted, nil
}
