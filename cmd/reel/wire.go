package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"gorm.io/gorm"

	"github.com/zulandar/reelyard/internal/artifacts"
	"github.com/zulandar/reelyard/internal/captions"
	"github.com/zulandar/reelyard/internal/command"
	"github.com/zulandar/reelyard/internal/config"
	"github.com/zulandar/reelyard/internal/credentials"
	"github.com/zulandar/reelyard/internal/diarize"
	"github.com/zulandar/reelyard/internal/events"
	"github.com/zulandar/reelyard/internal/fetch"
	"github.com/zulandar/reelyard/internal/media"
	"github.com/zulandar/reelyard/internal/pipeline"
	"github.com/zulandar/reelyard/internal/resilience"
	"github.com/zulandar/reelyard/internal/scheduler"
	"github.com/zulandar/reelyard/internal/transcribe"
)

// worker is everything `reel serve` runs, plus what must be closed after.
type worker struct {
	scheduler *scheduler.Scheduler
	registry  *resilience.Registry
	closers   []io.Closer
}

// Close releases every collaborator that holds a connection or a model.
func (w *worker) Close() error {
	var errs []error
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildWorker wires the collaborators named in cfg into a scheduler.
func buildWorker(ctx context.Context, cfg *config.Config, gormDB *gorm.DB, logger *slog.Logger) (*worker, error) {
	w := &worker{registry: resilience.NewRegistry(cfg.Resilience)}
	fail := func(err error) (*worker, error) {
		w.Close()
		return nil, err
	}
	runner := command.ExecRunner{}

	creds, err := credentials.New(cfg.Credentials)
	if err != nil {
		return fail(err)
	}
	if c, ok := creds.(io.Closer); ok {
		w.closers = append(w.closers, c)
	}

	publisher, err := events.New(cfg.Events)
	if err != nil {
		return fail(err)
	}
	w.closers = append(w.closers, publisher)

	store, err := artifacts.New(ctx, cfg.Artifacts)
	if err != nil {
		return fail(err)
	}

	fetcher := fetch.NewClient(cfg.Fetch, runner, creds, w.registry, logger)
	workDir := filepath.Join(cfg.Fetch.WorkDir, "reelyard")

	service := transcribe.NewService(cfg.Transcribe, &transcribe.CommandLoader{
		Binary:  cfg.Transcribe.Binary,
		Runner:  runner,
		WorkDir: workDir,
	}, w.registry, logger)
	w.closers = append(w.closers, service)

	proc := &pipeline.Processor{
		DB:          gormDB,
		Fetcher:     fetcher,
		Transcoder:  media.NewTranscoder(cfg.Media, runner),
		Transcriber: service,
		Diarizer:    diarize.New(cfg.Diarize, runner),
		Captions: &captions.Fetcher{
			Client:   &http.Client{},
			Timeout:  cfg.Captions.Timeout,
			MaxBytes: cfg.Captions.MaxBytes,
			Registry: w.registry,
			Logger:   logger,
		},
		Events:           publisher,
		Logger:           logger,
		WorkDir:          workDir,
		KeepLocal:        cfg.Artifacts.KeepLocal,
		CaptionMode:      cfg.Captions.Mode,
		CaptionLanguages: cfg.Captions.Languages,
		Options: transcribe.Options{
			Language:       cfg.Transcribe.Language,
			BeamSize:       cfg.Transcribe.BeamSize,
			Temperature:    cfg.Transcribe.Temperature,
			WordTimestamps: cfg.Transcribe.WordTimestamps,
		},
	}
	if store != nil {
		proc.Artifacts = store
	}

	sched, err := scheduler.New(scheduler.Opts{
		DB:        gormDB,
		Config:    cfg.Scheduler,
		Model:     cfg.Transcribe.Model,
		Ranking:   transcribe.NewRanking(cfg.Transcribe.ModelRanking),
		Expander:  fetcher,
		Processor: proc,
		Events:    publisher,
		Logger:    logger,
	})
	if err != nil {
		return fail(fmt.Errorf("build scheduler: %w", err))
	}
	w.scheduler = sched
	return w, nil
}
