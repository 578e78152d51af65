package proc

import (
	"math"
	"regexp"
	"strings"
)

var (
	camelCaseRegex = regexp.MustCompile(`([a-z])([A-Z])`)
	bracketRegex   = regexp.MustCompile(`[\(\[\{【].*?[\)\]\}】]`)
	disqualifyRe   = regexp.MustCompile(`\b(lyrics?|slowed|reverb|nightcore|live|cover|karaoke|instrumental|sped\s*up|8d)\b`)

	// Trailing phrases stripped from normalized titles, longest first.
	boilerplate = []string{
		"official music video",
		"official lyric video",
		"official video",
		"official audio",
		"music video",
		"lyric video",
		"visualizer",
		"lyrics",
		"lyric",
		"audio",
		"video",
		"remix",
		"official",
		"hd",
		"hq",
		"4k",
		"mv",
	}

	stopwords = map[string]bool{
		"a": true, "an": true, "the": true, "and": true, "of": true,
		"to": true, "in": true, "on": true, "for": true, "with": true,
		"feat": true, "ft": true, "by": true, "is": true, "my": true,
		"me": true, "you": true, "your": true, "i": true,
	}
)

// normalizeTitle reduces a title to a lowercase alphanumeric comparison key.
// Bracketed segments, the uploader's own name and trailing boilerplate such
// as "official video" are removed.
func normalizeTitle(title, uploader string) string {
	if title == "" {
		return ""
	}

	t := strings.ToLower(camelCaseRegex.ReplaceAllString(title, "${1} ${2}"))
	c := strings.ToLower(strings.TrimSpace(cleanUploader(uploader)))

	t = bracketRegex.ReplaceAllString(t, " ")

	for _, sep := range []string{"|", "//", " ─ ", " - ", " – "} {
		if !strings.Contains(t, sep) {
			continue
		}
		var keep []string
		for _, p := range strings.Split(t, sep) {
			p = strings.TrimSpace(p)
			if p == "" || (c != "" && (p == c || p == strings.ReplaceAll(c, " ", ""))) {
				continue
			}
			keep = append(keep, p)
		}
		if len(keep) > 0 {
			t = strings.Join(keep, " ")
		}
		break
	}

	var sb strings.Builder
	for _, r := range t {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteRune(' ')
		}
	}
	t = strings.Join(strings.Fields(sb.String()), " ")

	for stripped := true; stripped; {
		stripped = false
		for _, b := range boilerplate {
			if t == b {
				continue
			}
			if strings.HasSuffix(t, " "+b) {
				t = strings.TrimSuffix(t, " "+b)
				stripped = true
			}
		}
	}
	return t
}

// cleanUploader strips auto-generated channel decorations.
func cleanUploader(u string) string {
	u = strings.TrimSpace(u)
	u = strings.TrimSuffix(u, " - Topic")
	u = strings.TrimSuffix(u, "VEVO")
	u = strings.TrimSuffix(u, "Official")
	return strings.TrimSpace(u)
}

func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// titleKey is the first few meaningful words of a normalized title.
func titleKey(normalized string) string {
	var words []string
	for _, w := range tokenize(normalized) {
		if stopwords[w] {
			continue
		}
		words = append(words, w)
		if len(words) == 3 {
			break
		}
	}
	return strings.Join(words, " ")
}

// disqualifyingTerms returns the variant markers present in a title.
func disqualifyingTerms(title string) []string {
	return disqualifyRe.FindAllString(strings.ToLower(title), -1)
}

// isVariant reports whether a title carries any variant marker, such as a
// live recording or a nightcore edit. The seed's own title does not matter.
func isVariant(title string) bool {
	return len(disqualifyingTerms(title)) > 0
}

// SimilarityFunc scores two normalized titles between 0 and 1.
type SimilarityFunc func(a, b string) float64

// idfWeights computes inverse document frequencies for a corpus of titles.
func idfWeights(corpus []string) map[string]float64 {
	total := len(corpus)
	if total == 0 {
		return nil
	}
	df := make(map[string]int)
	for _, doc := range corpus {
		seen := make(map[string]bool)
		for _, w := range tokenize(doc) {
			if !seen[w] {
				df[w]++
				seen[w] = true
			}
		}
	}
	weights := make(map[string]float64, len(df))
	for w, count := range df {
		weights[w] = math.Log(1.0 + float64(total)/float64(count))
	}
	return weights
}

// WeightedOverlap returns a SimilarityFunc scoring the weighted Jaccard
// overlap of two token sets. Unknown tokens get the weight of a unique term.
func WeightedOverlap(corpus []string) SimilarityFunc {
	weights := idfWeights(corpus)
	unseen := math.Log(1.0 + float64(len(corpus)+1))
	return func(a, b string) float64 {
		sa, sb := make(map[string]bool), make(map[string]bool)
		union := make(map[string]bool)
		for _, w := range tokenize(a) {
			sa[w], union[w] = true, true
		}
		for _, w := range tokenize(b) {
			sb[w], union[w] = true, true
		}
		if len(union) == 0 {
			return 0
		}

		var inter, total float64
		for w := range union {
			wt := unseen
			if v, ok := weights[w]; ok {
				wt = v
			}
			if sa[w] && sb[w] {
				inter += wt
			}
			total += wt
		}
		if total == 0 {
			return 0
		}
		return inter / total
	}
}

// Matcher decides whether two normalized titles refer to the same song.
type Matcher struct {
	Threshold  float64
	MaxDelta   int
	Similarity SimilarityFunc
}

func NewMatcher(threshold float64, sim SimilarityFunc) *Matcher {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.7
	}
	if sim == nil {
		sim = WeightedOverlap(nil)
	}
	return &Matcher{Threshold: threshold, MaxDelta: 8, Similarity: sim}
}

// NearDuplicate compares two normalized titles.
func (m *Matcher) NearDuplicate(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}

	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(long)-len(short) <= m.MaxDelta && (strings.HasPrefix(long, short) || strings.Contains(long, short)) {
		return true
	}
	return m.Similarity(a, b) >= m.Threshold
}
