// Package fetch resolves metadata and downloads media through yt-dlp, trying
// each configured client identity in turn.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/zulandar/reelyard/internal/command"
	"github.com/zulandar/reelyard/internal/config"
	"github.com/zulandar/reelyard/internal/credentials"
	"github.com/zulandar/reelyard/internal/fallback"
	"github.com/zulandar/reelyard/internal/models"
	"github.com/zulandar/reelyard/internal/resilience"
)

// Operation families, used for breakers, retry policies and tokens.
const (
	FamilyMetadata = "metadata"
	FamilyDownload = "download"
)

// CaptionFormat is one downloadable rendition of a caption track.
type CaptionFormat struct {
	Ext  string `json:"ext"`
	URL  string `json:"url"`
	Name string `json:"name"`
}

// Metadata is the subset of the yt-dlp info document we use.
type Metadata struct {
	ID                string                     `json:"id"`
	Type              string                     `json:"_type"`
	Title             string                     `json:"title"`
	Duration          float64                    `json:"duration"`
	WebpageURL        string                     `json:"webpage_url"`
	Language          string                     `json:"language"`
	ChannelID         string                     `json:"channel_id"`
	AutomaticCaptions map[string][]CaptionFormat `json:"automatic_captions"`
	Subtitles         map[string][]CaptionFormat `json:"subtitles"`
	Entries           []Entry                    `json:"entries"`
}

// Entry is one item of a channel or playlist listing.
type Entry struct {
	ID       string  `json:"id"`
	Type     string  `json:"_type"`
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Duration float64 `json:"duration"`
	Index    int     `json:"-"`
}

// Client runs yt-dlp with a fallback chain over client identities.
type Client struct {
	Binary      string
	Runner      command.Runner
	Identities  []Identity
	CookieFile  string
	Format      string
	Credentials credentials.Provider
	Registry    *resilience.Registry
	Logger      *slog.Logger

	// RetryOptions are passed to every chain, for tests.
	RetryOptions []resilience.Option
}

// NewClient builds a Client from configuration.
func NewClient(cfg config.FetchConfig, runner command.Runner, creds credentials.Provider, reg *resilience.Registry, logger *slog.Logger) *Client {
	return &Client{
		Binary:      cfg.Binary,
		Runner:      runner,
		Identities:  Identities(cfg.EnabledClients()),
		CookieFile:  cfg.CookieFile,
		Format:      cfg.Format,
		Credentials: creds,
		Registry:    reg,
		Logger:      logger,
	}
}

// Metadata fetches the info document for a single video.
func (c *Client) Metadata(ctx context.Context, videoURL string) (*Metadata, error) {
	out, err := c.run(ctx, FamilyMetadata, func(id []string) []string {
		return append(id, "-J", "--no-playlist", "--skip-download", "--no-warnings", videoURL)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch: metadata %s: %w", videoURL, err)
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(out), &meta); err != nil {
		return nil, fmt.Errorf("fetch: decode metadata %s: %w", videoURL, err)
	}
	return &meta, nil
}

// Expand resolves a job's input into ordered entries: one for a single
// video, every listed upload for a channel.
func (c *Client) Expand(ctx context.Context, kind, inputURL string) ([]Entry, error) {
	switch kind {
	case models.JobKindSingle:
		meta, err := c.Metadata(ctx, inputURL)
		if err != nil {
			return nil, err
		}
		u := meta.WebpageURL
		if u == "" {
			u = inputURL
		}
		return []Entry{{ID: meta.ID, Title: meta.Title, URL: u, Duration: meta.Duration, Index: 0}}, nil
	case models.JobKindChannel:
		return c.channelEntries(ctx, inputURL)
	default:
		return nil, fmt.Errorf("fetch: unknown job kind %q", kind)
	}
}

func (c *Client) channelEntries(ctx context.Context, channelURL string) ([]Entry, error) {
	listURL := channelVideosURL(channelURL)
	out, err := c.run(ctx, FamilyMetadata, func(id []string) []string {
		return append(id, "-J", "--flat-playlist", "--no-warnings", listURL)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch: list channel %s: %w", listURL, err)
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(out), &meta); err != nil {
		return nil, fmt.Errorf("fetch: decode channel %s: %w", listURL, err)
	}

	var entries []Entry
	for _, e := range meta.Entries {
		if e.Type == "playlist" || e.ID == "" {
			continue
		}
		if e.URL == "" || !strings.Contains(e.URL, "://") {
			e.URL = "https://www.youtube.com/watch?v=" + e.ID
		}
		e.Index = len(entries)
		entries = append(entries, e)
	}
	return entries, nil
}

// Download saves the best audio rendition into dir and returns its path.
func (c *Client) Download(ctx context.Context, videoURL, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("fetch: create %s: %w", dir, err)
	}
	tmpl := filepath.Join(dir, "%(id)s.%(ext)s")
	out, err := c.run(ctx, FamilyDownload, func(id []string) []string {
		return append(id,
			"-f", c.Format,
			"-o", tmpl,
			"--no-playlist",
			"--no-progress",
			"--no-warnings",
			"--print", "after_move:filepath",
			videoURL,
		)
	})
	if err != nil {
		return "", fmt.Errorf("fetch: download %s: %w", videoURL, err)
	}
	path := lastLine(out)
	if path == "" {
		return "", fmt.Errorf("fetch: download %s: no output path reported", videoURL)
	}
	return path, nil
}

// run executes yt-dlp once per identity through the family's fallback chain
// and returns stdout of the first success.
func (c *Client) run(ctx context.Context, family string, build func(idArgs []string) []string) (string, error) {
	if len(c.Identities) == 0 {
		return "", fmt.Errorf("fetch: no client identities enabled")
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	used := make(map[string]string, len(c.Identities))
	strategies := make([]fallback.Strategy[string], 0, len(c.Identities))
	for _, id := range c.Identities {
		id := id
		strategies = append(strategies, fallback.Strategy[string]{
			Name: id.Name,
			Run: func(ctx context.Context) (string, error) {
				token := credentials.Optional(ctx, c.Credentials, family, logger)
				used[id.Name] = token
				args := id.args(token)
				if c.CookieFile != "" {
					args = append(args, "--cookies", c.CookieFile)
				}
				res, err := c.Runner.Run(ctx, c.Binary, build(args)...)
				if err != nil {
					return "", err
				}
				return res.Stdout, nil
			},
		})
	}

	chain := fallback.Chain[string]{
		Family:       family,
		RetryOptions: c.RetryOptions,
		Logger:       logger,
		Invalidate: func(ctx context.Context, strategy string, err error) {
			tok := used[strategy]
			if tok == "" || c.Credentials == nil {
				return
			}
			logger.Warn("invalidating credential after token failure", "family", family, "client", strategy)
			if ierr := c.Credentials.Invalidate(ctx, family, tok); ierr != nil {
				logger.Warn("credential invalidation failed", "family", family, "error", ierr)
			}
		},
	}
	if c.Registry != nil {
		chain.Policy = c.Registry.Policy(family)
		chain.Breaker = c.Registry.Breaker(family)
	}
	res, err := chain.Run(ctx, strategies)
	if err != nil {
		return "", err
	}
	return res.Value, nil
}

// channelVideosURL points a bare channel URL at its uploads tab.
func channelVideosURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || !strings.Contains(u.Host, "youtube.com") {
		return raw
	}
	p := strings.TrimSuffix(u.Path, "/")
	if !strings.HasPrefix(p, "/@") && !strings.HasPrefix(p, "/channel/") && !strings.HasPrefix(p, "/c/") && !strings.HasPrefix(p, "/user/") {
		return raw
	}
	segs := strings.Split(strings.TrimPrefix(p, "/"), "/")
	limit := 1
	if !strings.HasPrefix(segs[0], "@") {
		limit = 2
	}
	if len(segs) > limit {
		return raw
	}
	u.Path = p + "/videos"
	return u.String()
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
