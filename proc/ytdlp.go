package proc

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

// Extractor is the platform side of track resolution.
type Extractor interface {
	// Lookup fetches metadata for a URL or search query without downloading.
	Lookup(ctx context.Context, target string) (*Track, error)
	// StreamURL returns a direct audio URL good for one playback.
	StreamURL(ctx context.Context, id string) (string, error)
	// Download fetches the audio for id into dir and returns the file path.
	Download(ctx context.Context, id, dir string) (string, error)
}

const audioFormat = "bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio/best"

// printTemplate is tab separated so titles containing spaces survive.
const printTemplate = "%(id)s\t%(title)s\t%(uploader)s\t%(duration)s\t%(webpage_url)s\t%(thumbnail)s"

var (
	cachedJSArgs []string
	jsOnce       sync.Once

	videoIDRegex = regexp.MustCompile(`(?:\?|&)v=([A-Za-z0-9_-]{6,})`)
	shortIDRegex = regexp.MustCompile(`(?:youtu\.be/|shorts/|embed/)([A-Za-z0-9_-]{6,})`)
)

var errNoResult = errors.New("no results")

// YtdlpExtractor drives the yt-dlp binary.
type YtdlpExtractor struct {
	Proxy string
}

func NewYtdlpExtractor(proxy string) *YtdlpExtractor {
	return &YtdlpExtractor{Proxy: proxy}
}

func (e *YtdlpExtractor) newCommand() *ytdlp.Command {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig()
	if e.Proxy != "" {
		cmd.Proxy(e.Proxy)
	}
	return cmd
}

// buildYtdlpArgs returns common args for yt-dlp commands
func buildYtdlpArgs() []string {
	jsOnce.Do(func() {
		for _, rt := range []string{"node", "deno", "quickjs"} {
			if path, err := exec.LookPath(rt); err == nil {
				cachedJSArgs = append(cachedJSArgs, "--js-runtimes", rt+":"+path)
				break
			}
		}
	})

	args := append([]string(nil), cachedJSArgs...)
	args = append(args,
		"--no-playlist",
		"--no-check-certificates",
		"--extractor-args", "youtube:player_client=android,web",
		"--prefer-free-formats",
		"--socket-timeout", "30",
		"--retries", "10",
		"--fragment-retries", "10",
	)
	return args
}

// isURL reports whether q should be handed to the extractor as-is.
func isURL(q string) bool {
	return strings.HasPrefix(q, "http://") || strings.HasPrefix(q, "https://")
}

// searchTarget rewrites free text into a single-result platform search.
func searchTarget(q string) string {
	if isURL(q) {
		return strings.Replace(q, "music.youtube.com", "www.youtube.com", 1)
	}
	return "ytsearch1:" + q
}

func watchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// extractVideoID returns the content id in a platform URL, or "".
func extractVideoID(u string) string {
	if m := videoIDRegex.FindStringSubmatch(u); len(m) > 1 {
		return m[1]
	}
	if m := shortIDRegex.FindStringSubmatch(u); len(m) > 1 {
		return m[1]
	}
	return ""
}

func naField(s string) string {
	s = strings.TrimSpace(s)
	if s == "NA" {
		return ""
	}
	return s
}

// parseSeconds parses yt-dlp's duration field, which may be fractional or NA.
func parseSeconds(s string) time.Duration {
	f, err := strconv.ParseFloat(naField(s), 64)
	if err != nil || f <= 0 {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}

// parseDurationColon parses duration strings like "3:20" or "1:05:20"
func parseDurationColon(s string) time.Duration {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}
	var total int
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second
}

// parseTrackLines parses output printed with printTemplate. Multi-entry
// output only ever uses the first line with an id.
func parseTrackLines(out string) (*Track, error) {
	for _, l := range strings.Split(strings.TrimSpace(out), "\n") {
		ps := strings.Split(l, "\t")
		if len(ps) < 4 {
			continue
		}
		id := naField(ps[0])
		if id == "" {
			continue
		}
		t := &Track{
			ID:       id,
			Title:    naField(ps[1]),
			Uploader: naField(ps[2]),
			Duration: parseSeconds(ps[3]),
		}
		if len(ps) > 4 {
			t.WebpageURL = naField(ps[4])
		}
		if len(ps) > 5 {
			t.Thumbnail = naField(ps[5])
		}
		return t, nil
	}
	return nil, errNoResult
}

func (e *YtdlpExtractor) Lookup(ctx context.Context, target string) (*Track, error) {
	res, err := e.newCommand().
		Print(printTemplate).
		PlaylistItems("1").
		Run(ctx, append(buildYtdlpArgs(), "--skip-download", searchTarget(target))...)
	if err != nil {
		if res != nil && res.Stderr != "" {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(res.Stderr))
		}
		return nil, err
	}
	return parseTrackLines(res.Stdout)
}

func (e *YtdlpExtractor) StreamURL(ctx context.Context, id string) (string, error) {
	res, err := e.newCommand().
		Format(audioFormat).
		Print("%(url)s").
		Run(ctx, append(buildYtdlpArgs(), "--skip-download", watchURL(id))...)
	if err != nil {
		return "", err
	}
	for _, l := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if u := naField(l); isURL(u) {
			return u, nil
		}
	}
	return "", errNoResult
}

func (e *YtdlpExtractor) Download(ctx context.Context, id, dir string) (string, error) {
	args := append(buildYtdlpArgs(),
		"--no-mtime",
		"--cache-dir", filepath.Join(dir, ".ytdl"),
		watchURL(id),
	)
	res, err := e.newCommand().
		Format(audioFormat).
		Output(filepath.Join(dir, "%(id)s.%(ext)s")).
		Print("after_move:filepath").
		NoSimulate().
		Run(ctx, args...)
	if err != nil {
		if res != nil && res.Stderr != "" {
			return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(res.Stderr))
		}
		return "", err
	}

	lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if p := naField(lines[i]); p != "" {
			return p, nil
		}
	}
	return "", fmt.Errorf("download %s: no output file", id)
}

// RelatedEntries lists the platform's mix list for a content id.
func (e *YtdlpExtractor) RelatedEntries(ctx context.Context, id string, limit int) ([]Candidate, error) {
	mix := watchURL(id) + "&list=RD" + id
	res, err := e.newCommand().
		FlatPlaylist().
		Print("%(id)s\t%(title)s\t%(uploader)s\t%(duration)s").
		PlaylistItems(fmt.Sprintf("1-%d", limit+1)).
		Run(ctx, append(buildYtdlpArgs(), mix, "--yes-playlist")...)
	if err != nil {
		return nil, err
	}
	return parseCandidates(res.Stdout, id), nil
}

// SearchEntries runs a flat ytsearchN query.
func (e *YtdlpExtractor) SearchEntries(ctx context.Context, q string, limit int) ([]Candidate, error) {
	res, err := e.newCommand().
		FlatPlaylist().
		Print("%(id)s\t%(title)s\t%(uploader)s\t%(duration)s").
		PlaylistItems(fmt.Sprintf("1-%d", limit)).
		Run(ctx, append(buildYtdlpArgs(), fmt.Sprintf("ytsearch%d:%s", limit, q))...)
	if err != nil {
		return nil, err
	}
	return parseCandidates(res.Stdout, ""), nil
}

func parseCandidates(out, skipID string) []Candidate {
	var cs []Candidate
	for _, l := range strings.Split(strings.TrimSpace(out), "\n") {
		ps := strings.Split(l, "\t")
		if len(ps) < 4 {
			continue
		}
		id := naField(ps[0])
		if id == "" || id == skipID {
			continue
		}
		cs = append(cs, Candidate{
			ID:       id,
			Title:    naField(ps[1]),
			Uploader: naField(ps[2]),
			Duration: parseSeconds(ps[3]),
		})
	}
	return cs
}
