// Package captions selects, downloads and parses auto-generated caption
// tracks into timed cues.
package captions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/zulandar/reelyard/internal/fallback"
	"github.com/zulandar/reelyard/internal/fetch"
	"github.com/zulandar/reelyard/internal/resilience"
)

// Family is the operation family for caption downloads.
const Family = "captions"

// formatPreference lists formats best first.
var formatPreference = []string{"json3", "vtt"}

// Track is one selected caption rendition.
type Track struct {
	Language string
	Ext      string
	URL      string
}

// Cue is one timed caption, in seconds.
type Cue struct {
	Start float64
	End   float64
	Text  string
}

// SelectTrack picks the best automatic caption track. Languages are tried in
// order; for each, an exact code beats a regional or "-orig" variant, and
// json3 beats vtt.
func SelectTrack(meta *fetch.Metadata, languages []string) (Track, bool) {
	if meta == nil || len(meta.AutomaticCaptions) == 0 {
		return Track{}, false
	}
	for _, lang := range languages {
		for _, code := range candidateCodes(meta.AutomaticCaptions, lang) {
			if t, ok := bestFormat(code, meta.AutomaticCaptions[code]); ok {
				return t, true
			}
		}
	}
	return Track{}, false
}

// candidateCodes returns the exact code first, then variants sharing its
// base language, in sorted order for determinism.
func candidateCodes(tracks map[string][]fetch.CaptionFormat, lang string) []string {
	var out []string
	if _, ok := tracks[lang]; ok {
		out = append(out, lang)
	}
	var variants []string
	for code := range tracks {
		if code == lang {
			continue
		}
		if strings.HasPrefix(code, lang+"-") {
			variants = append(variants, code)
		}
	}
	slices.Sort(variants)
	return append(out, variants...)
}

func bestFormat(code string, formats []fetch.CaptionFormat) (Track, bool) {
	for _, want := range formatPreference {
		for _, f := range formats {
			if f.Ext == want && f.URL != "" {
				return Track{Language: code, Ext: f.Ext, URL: f.URL}, true
			}
		}
	}
	return Track{}, false
}

// Parse decodes a caption body according to its format.
func Parse(ext string, data []byte) ([]Cue, error) {
	switch ext {
	case "json3":
		return ParseJSON3(data)
	case "vtt":
		return ParseVTT(data)
	default:
		return nil, fmt.Errorf("captions: unsupported format %q", ext)
	}
}

// HTTPError is a non-2xx caption response.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("captions: http error %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Fetcher downloads caption tracks over plain HTTP.
type Fetcher struct {
	Client   *http.Client
	Timeout  time.Duration
	MaxBytes int64
	Registry *resilience.Registry
	Logger   *slog.Logger

	// RetryOptions are passed to the chain, for tests.
	RetryOptions []resilience.Option
}

// Fetch downloads and parses track.
func (f *Fetcher) Fetch(ctx context.Context, track Track) ([]Cue, error) {
	chain := fallback.Chain[[]byte]{
		Family:       Family,
		RetryOptions: f.RetryOptions,
		Logger:       f.Logger,
	}
	if f.Registry != nil {
		chain.Policy = f.Registry.Policy(Family)
		chain.Breaker = f.Registry.Breaker(Family)
	}
	res, err := chain.Run(ctx, []fallback.Strategy[[]byte]{{
		Name: "http",
		Run:  func(ctx context.Context) ([]byte, error) { return f.get(ctx, track.URL) },
	}})
	if err != nil {
		return nil, fmt.Errorf("captions: fetch %s: %w", track.Language, err)
	}
	return Parse(track.Ext, res.Value)
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("captions: build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: url}
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = 16 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errors.New("captions: response exceeds size limit")
	}
	return body, nil
}
