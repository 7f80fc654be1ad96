package transcribe

import "strings"

// DefaultRanking orders whisper models from lowest to highest quality.
var DefaultRanking = []string{
	"tiny",
	"base",
	"small",
	"medium",
	"large-v1",
	"large-v2",
	"large-v3",
}

// Ranking compares model quality. Models it does not know, including the
// labels used for caption-sourced transcripts, are not comparable.
type Ranking struct {
	order map[string]int
}

// NewRanking builds a ranking from names listed lowest quality first. An
// empty list uses DefaultRanking.
func NewRanking(names []string) Ranking {
	if len(names) == 0 {
		names = DefaultRanking
	}
	r := Ranking{order: make(map[string]int, len(names))}
	for i, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if _, dup := r.order[n]; !dup && n != "" {
			r.order[n] = i
		}
	}
	return r
}

// Rank returns the position of model, after normalising variants.
func (r Ranking) Rank(model string) (int, bool) {
	if r.order == nil {
		r = NewRanking(nil)
	}
	rank, ok := r.order[normalizeModel(model)]
	return rank, ok
}

// Below reports whether have is strictly worse than want. Unknown models on
// either side are never below.
func (r Ranking) Below(have, want string) bool {
	h, ok := r.Rank(have)
	if !ok {
		return false
	}
	w, ok := r.Rank(want)
	if !ok {
		return false
	}
	return h < w
}

// normalizeModel maps hub names and English-only or distilled variants onto
// their base model: "Systran/faster-whisper-small.en" becomes "small".
func normalizeModel(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	m = strings.TrimPrefix(m, "faster-whisper-")
	m = strings.TrimPrefix(m, "whisper-")
	m = strings.TrimPrefix(m, "distil-")
	m = strings.TrimSuffix(m, ".en")
	if m == "large" {
		m = "large-v3"
	}
	return m
}
