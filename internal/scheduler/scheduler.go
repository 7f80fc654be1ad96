package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/zulandar/reelyard/internal/config"
	"github.com/zulandar/reelyard/internal/events"
	"github.com/zulandar/reelyard/internal/metrics"
	"github.com/zulandar/reelyard/internal/models"
	"github.com/zulandar/reelyard/internal/pipeline"
	"github.com/zulandar/reelyard/internal/transcribe"
)

// releaseTimeout bounds the claim release done after shutdown.
const releaseTimeout = 5 * time.Second

// Processor runs the pipeline for one claimed video.
type Processor interface {
	Process(ctx context.Context, v *models.Video) error
}

// Opts holds everything a Scheduler needs.
type Opts struct {
	DB        *gorm.DB
	Config    config.SchedulerConfig
	Model     string
	Ranking   transcribe.Ranking
	Expander  Expander
	Processor Processor
	Events    events.Publisher
	Logger    *slog.Logger
}

// Scheduler is one worker's polling loop. Several may run against the same
// database.
type Scheduler struct {
	db        *gorm.DB
	cfg       config.SchedulerConfig
	model     string
	ranking   transcribe.Ranking
	expander  Expander
	processor Processor
	events    events.Publisher
	logger    *slog.Logger

	requeue     cron.Schedule
	nextRequeue time.Time
	now         func() time.Time

	lastTick atomic.Int64 // unix nanoseconds
}

// New validates opts and builds a Scheduler.
func New(opts Opts) (*Scheduler, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("scheduler: db is required")
	}
	if opts.Expander == nil {
		return nil, fmt.Errorf("scheduler: expander is required")
	}
	if opts.Processor == nil {
		return nil, fmt.Errorf("scheduler: processor is required")
	}
	s := &Scheduler{
		db:        opts.DB,
		cfg:       opts.Config,
		model:     opts.Model,
		ranking:   opts.Ranking,
		expander:  opts.Expander,
		processor: opts.Processor,
		events:    opts.Events,
		logger:    opts.Logger,
		now:       time.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.cfg.WorkerID == "" {
		s.cfg.WorkerID = DefaultWorkerID()
	}
	if s.cfg.RequeueSchedule != "" {
		sched, err := cron.ParseStandard(s.cfg.RequeueSchedule)
		if err != nil {
			return nil, fmt.Errorf("scheduler: parse requeue schedule: %w", err)
		}
		s.requeue = sched
	}
	s.logger = s.logger.With("worker", s.cfg.WorkerID)
	return s, nil
}

// DefaultWorkerID combines the host name with a random suffix.
func DefaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

// WorkerID returns the claim owner name used by this scheduler.
func (s *Scheduler) WorkerID() string { return s.cfg.WorkerID }

// LastTick reports when the loop last completed an iteration.
func (s *Scheduler) LastTick() time.Time {
	n := s.lastTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Run loops until ctx is cancelled. Each iteration runs the maintenance
// phases then processes at most one video; an idle iteration sleeps for the
// poll interval.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "poll_interval", s.cfg.PollInterval, "model", s.model)
	for {
		if ctx.Err() != nil {
			s.logger.Info("scheduler stopped")
			return nil
		}
		if worked := s.Tick(ctx); worked {
			continue
		}
		if err := sleepWithContext(ctx, s.cfg.PollInterval); err != nil {
			s.logger.Info("scheduler stopped")
			return nil
		}
	}
}

// Tick runs one iteration and reports whether a video was processed.
func (s *Scheduler) Tick(ctx context.Context) bool {
	defer func() { s.lastTick.Store(s.now().UnixNano()) }()
	db := s.db.WithContext(ctx)

	s.expand(ctx, db)
	s.rescue(db)
	s.requeueUpgrades(db)
	s.finalize(ctx, db)

	v, err := ClaimVideo(db, s.cfg.WorkerID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) && ctx.Err() == nil {
			s.logger.Error("claim video", "error", err)
		}
		return false
	}
	metrics.VideosClaimed.Inc()
	s.process(ctx, v)
	return true
}

// expand, rescue, requeueUpgrades and finalize log their own failures so one
// broken phase never stops the others.
func (s *Scheduler) expand(ctx context.Context, db *gorm.DB) {
	res, err := ExpandPendingJobs(ctx, db, s.expander, ExpandOpts{
		MaxAttempts:    s.cfg.MaxExpandAttempts,
		ErrorMaxLength: s.cfg.ErrorMaxLength,
		Logger:         s.logger,
	})
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("expand jobs", "error", err)
		}
		return
	}
	for _, id := range res.Expanded {
		s.publish(ctx, events.Event{Type: events.JobExpanded, JobID: id})
	}
	for _, id := range res.Failed {
		s.publish(ctx, events.Event{Type: events.JobFinished, JobID: id, Status: models.JobFailed})
	}
}

func (s *Scheduler) rescue(db *gorm.DB) {
	n, err := RescueStuckVideos(db, s.cfg.RescueAfter)
	if err != nil {
		s.logger.Error("rescue stuck videos", "error", err)
		return
	}
	if n > 0 {
		metrics.VideosRescued.Add(float64(n))
		s.logger.Warn("rescued stuck videos", "count", n, "threshold", s.cfg.RescueAfter)
	}
}

func (s *Scheduler) requeueUpgrades(db *gorm.DB) {
	if s.model == "" {
		return
	}
	now := s.now()
	if s.requeue != nil {
		if now.Before(s.nextRequeue) {
			return
		}
		s.nextRequeue = s.requeue.Next(now)
	}
	n, err := RequeueForUpgrade(db, s.model, s.ranking, s.cfg.RequeueBatch)
	if err != nil {
		s.logger.Error("requeue for model upgrade", "error", err)
		return
	}
	if n > 0 {
		metrics.VideosRequeued.Add(float64(n))
		s.logger.Info("requeued videos for model upgrade", "count", n, "model", s.model)
	}
}

func (s *Scheduler) finalize(ctx context.Context, db *gorm.DB) {
	done, err := FinalizeJobs(db)
	if err != nil {
		s.logger.Error("finalize jobs", "error", err)
	}
	for _, j := range done {
		s.logger.Info("job finished", "job", j.ID, "status", j.Status)
		s.publish(ctx, events.Event{Type: events.JobFinished, JobID: j.ID, Status: j.Status})
	}
}

// process runs the pipeline under a heartbeat and records the outcome.
func (s *Scheduler) process(ctx context.Context, v *models.Video) {
	logger := s.logger.With("video", v.ID, "job", v.JobID)
	logger.Info("claimed video", "url", v.URL, "idx", v.Idx)

	procCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var lost atomic.Bool
	hbErr := StartHeartbeat(procCtx, s.db, v.ID, s.cfg.WorkerID, s.cfg.HeartbeatInterval)
	go func() {
		select {
		case err := <-hbErr:
			logger.Warn("heartbeat stopped, abandoning video", "error", err)
			lost.Store(true)
			cancel()
		case <-procCtx.Done():
		}
	}()

	err := s.processor.Process(procCtx, v)
	cancel()
	switch {
	case err == nil:
		metrics.VideosProcessed.WithLabelValues("completed").Inc()
	case ctx.Err() != nil:
		// Shutting down: hand the video back rather than failing it.
		rctx, rcancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer rcancel()
		if rerr := ReleaseVideo(s.db.WithContext(rctx), v.ID, s.cfg.WorkerID); rerr != nil {
			logger.Error("release video", "error", rerr)
		}
		metrics.VideosProcessed.WithLabelValues("released").Inc()
		logger.Info("released video on shutdown")
	case errors.Is(err, pipeline.ErrClaimLost) || lost.Load():
		metrics.VideosProcessed.WithLabelValues("abandoned").Inc()
		logger.Warn("lost claim on video", "error", err)
	default:
		s.fail(ctx, v, err, logger)
	}
}

func (s *Scheduler) fail(ctx context.Context, v *models.Video, cause error, logger *slog.Logger) {
	ok, err := MarkVideoFailed(s.db.WithContext(ctx), v.ID, s.cfg.WorkerID, cause.Error(), s.cfg.ErrorMaxLength)
	if err != nil {
		logger.Error("mark video failed", "error", err)
		return
	}
	if !ok {
		logger.Warn("video failed after claim was lost", "error", cause)
		return
	}
	metrics.VideosProcessed.WithLabelValues("failed").Inc()
	logger.Error("video failed", "error", cause)
	s.publish(ctx, events.Event{
		Type:    events.VideoFailed,
		JobID:   v.JobID,
		VideoID: v.ID,
		Status:  models.VideoFailed,
		Error:   TruncateError(cause.Error(), s.cfg.ErrorMaxLength),
	})
}

func (s *Scheduler) publish(ctx context.Context, ev events.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish event failed", "type", ev.Type, "error", err)
	}
}

// sleepWithContext sleeps for d or until ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
