package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zulandar/reelyard/internal/config"
	"github.com/zulandar/reelyard/internal/fallback"
	"github.com/zulandar/reelyard/internal/media"
	"github.com/zulandar/reelyard/internal/resilience"
)

// Family is the operation family for model load and inference.
const Family = "transcribe"

// Service transcribes chunked audio, falling back across the plan when a
// configuration cannot run on this host.
type Service struct {
	Cache    *Cache
	Plan     []ModelConfig
	Registry *resilience.Registry
	Logger   *slog.Logger

	// RetryOptions are passed to the chain, for tests.
	RetryOptions []resilience.Option
}

// NewService builds a Service whose plan comes from configuration.
func NewService(cfg config.TranscribeConfig, loader Loader, reg *resilience.Registry, logger *slog.Logger) *Service {
	return &Service{
		Cache:    NewCache(loader),
		Plan:     Plan(cfg.Model, cfg.FallbackModels, cfg.Devices, cfg.Precisions),
		Registry: reg,
		Logger:   logger,
	}
}

// Transcribe runs every chunk through the first configuration that works and
// shifts segment times by each chunk's offset.
func (s *Service) Transcribe(ctx context.Context, chunks []media.Chunk, opts Options) (Result, error) {
	if len(chunks) == 0 {
		return Result{}, fmt.Errorf("transcribe: no audio chunks")
	}
	if len(s.Plan) == 0 {
		return Result{}, fmt.Errorf("transcribe: empty model plan")
	}

	strategies := make([]fallback.Strategy[Result], 0, len(s.Plan))
	for _, cfg := range s.Plan {
		cfg := cfg
		strategies = append(strategies, fallback.Strategy[Result]{
			Name: cfg.String(),
			Run: func(ctx context.Context) (Result, error) {
				return s.runConfig(ctx, cfg, chunks, opts)
			},
		})
	}

	chain := fallback.Chain[Result]{
		Family:   Family,
		Logger:   s.Logger,
		Continue: continueOnHostFailure,
	}
	// A config that cannot run here says nothing about the service, so it
	// must not open the breaker for the configs still to try.
	chain.RetryOptions = append([]resilience.Option{
		resilience.AbortIf(Advances),
		resilience.BreakerExempt(Advances),
	}, s.RetryOptions...)
	if s.Registry != nil {
		chain.Policy = s.Registry.Policy(Family)
		chain.Breaker = s.Registry.Breaker(Family)
	}
	res, err := chain.Run(ctx, strategies)
	if err != nil {
		return Result{}, err
	}
	out := res.Value
	out.Requested = s.Plan[0].Model
	return out, nil
}

// Close releases the cached model.
func (s *Service) Close() error {
	return s.Cache.Close()
}

func (s *Service) runConfig(ctx context.Context, cfg ModelConfig, chunks []media.Chunk, opts Options) (Result, error) {
	model, err := s.Cache.Get(ctx, cfg)
	if err != nil {
		return Result{}, err
	}

	out := Result{Model: cfg.Model, Config: cfg}
	for _, ch := range chunks {
		r, err := model.Transcribe(ctx, ch.Path, opts)
		if err != nil {
			if sig, ok := DetectCatastrophic(failureText(err)); ok {
				s.Cache.Evict(cfg)
				return Result{}, &CatastrophicError{Config: cfg, Signature: sig, Err: err}
			}
			return Result{}, fmt.Errorf("transcribe: %s: %w", cfg, err)
		}
		if out.Language == "" {
			out.Language = r.Language
		}
		for _, seg := range r.Segments {
			seg.Start += ch.Offset
			seg.End += ch.Offset
			out.Segments = append(out.Segments, seg)
		}
	}
	if out.Language == "" {
		out.Language = opts.Language
	}
	return out, nil
}

// continueOnHostFailure advances past configurations that cannot run here.
// Anything else is a problem with the input and no other model would help.
func continueOnHostFailure(_ resilience.ErrorClass, err error) bool {
	return Advances(err) || errors.Is(err, resilience.ErrCircuitOpen)
}

func failureText(err error) string {
	text := err.Error()
	var cf resilience.CommandFailure
	if errors.As(err, &cf) {
		text += "\n" + cf.Output()
	}
	return text
}
