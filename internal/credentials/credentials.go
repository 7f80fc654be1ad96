// Package credentials supplies short-lived tokens per operation family and
// accepts invalidation notices. Tokens are always optional.
package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zulandar/reelyard/internal/config"
)

// Provider hands out tokens and learns which ones stopped working.
// Token returns "" with a nil error when no token is available.
type Provider interface {
	Token(ctx context.Context, family string) (string, error)
	Invalidate(ctx context.Context, family, token string) error
}

// None never has a token.
type None struct{}

func (None) Token(context.Context, string) (string, error)    { return "", nil }
func (None) Invalidate(context.Context, string, string) error { return nil }

// Static serves tokens from configuration. An invalidated token is withheld
// for the rest of the process lifetime.
type Static struct {
	mu      sync.Mutex
	tokens  map[string]string
	revoked map[string]bool
}

// NewStatic copies tokens keyed by family.
func NewStatic(tokens map[string]string) *Static {
	s := &Static{tokens: make(map[string]string, len(tokens)), revoked: make(map[string]bool)}
	for k, v := range tokens {
		s.tokens[k] = v
	}
	return s
}

// Token returns the configured token for family unless it was invalidated.
func (s *Static) Token(_ context.Context, family string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok := s.tokens[family]
	if tok == "" || s.revoked[tok] {
		return "", nil
	}
	return tok, nil
}

// Invalidate withholds token from future Token calls.
func (s *Static) Invalidate(_ context.Context, _ string, token string) error {
	if token == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[token] = true
	return nil
}

// Optional fetches a token and treats any provider failure as "no token".
func Optional(ctx context.Context, p Provider, family string, logger *slog.Logger) string {
	if p == nil {
		return ""
	}
	tok, err := p.Token(ctx, family)
	if err != nil {
		if logger != nil {
			logger.Warn("credential lookup failed, continuing without token", "family", family, "error", err)
		}
		return ""
	}
	return tok
}

// New builds the provider selected by cfg.Backend.
func New(cfg config.CredentialsConfig) (Provider, error) {
	switch cfg.Backend {
	case "", "none":
		return None{}, nil
	case "static":
		return NewStatic(cfg.Tokens), nil
	case "redis":
		return NewRedis(cfg.Redis)
	default:
		return nil, fmt.Errorf("credentials: unknown backend %q", cfg.Backend)
	}
}
