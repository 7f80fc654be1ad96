// Package pipeline processes one claimed video: download, transcode, chunk
// and transcribe, diarize, then persist the transcript.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"time"

	"gorm.io/gorm"

	"github.com/zulandar/reelyard/internal/artifacts"
	"github.com/zulandar/reelyard/internal/captions"
	"github.com/zulandar/reelyard/internal/diarize"
	"github.com/zulandar/reelyard/internal/events"
	"github.com/zulandar/reelyard/internal/fetch"
	"github.com/zulandar/reelyard/internal/media"
	"github.com/zulandar/reelyard/internal/metrics"
	"github.com/zulandar/reelyard/internal/models"
	"github.com/zulandar/reelyard/internal/resilience"
	"github.com/zulandar/reelyard/internal/transcribe"
)

// Caption modes.
const (
	CaptionsOff      = "off"
	CaptionsFallback = "fallback"
	CaptionsPrefer   = "prefer"
)

// ErrClaimLost means the video changed status underneath this worker,
// usually because it was rescued and claimed by another one.
var ErrClaimLost = errors.New("video claim lost")

// Fetcher resolves metadata and downloads media.
type Fetcher interface {
	Metadata(ctx context.Context, videoURL string) (*fetch.Metadata, error)
	Download(ctx context.Context, videoURL, dir string) (string, error)
}

// CaptionFetcher downloads and parses a caption track.
type CaptionFetcher interface {
	Fetch(ctx context.Context, track captions.Track) ([]captions.Cue, error)
}

// Transcoder prepares audio for transcription.
type Transcoder interface {
	ToWAV(ctx context.Context, in, out string) error
	Duration(ctx context.Context, path string) (float64, error)
	Chunk(ctx context.Context, wav, dir string) ([]media.Chunk, error)
}

// Transcriber turns audio chunks into segments.
type Transcriber interface {
	Transcribe(ctx context.Context, chunks []media.Chunk, opts transcribe.Options) (transcribe.Result, error)
}

// Processor runs the per-video stages. Diarizer, Captions, Artifacts and
// Events are optional.
type Processor struct {
	DB          *gorm.DB
	Fetcher     Fetcher
	Transcoder  Transcoder
	Transcriber Transcriber
	Diarizer    diarize.Diarizer
	Captions    CaptionFetcher
	Artifacts   artifacts.Store
	Events      events.Publisher
	Logger      *slog.Logger

	WorkDir          string
	KeepLocal        bool
	CaptionMode      string
	CaptionLanguages []string
	Options          transcribe.Options
}

// Process runs every stage for v, which must already be claimed (status
// downloading). On success the video is completed and its transcript
// replaced. On failure the video is left in its last stage for the caller
// to mark failed.
func (p *Processor) Process(ctx context.Context, v *models.Video) error {
	if v == nil {
		return fmt.Errorf("pipeline: video is required")
	}
	if p.DB == nil {
		return fmt.Errorf("pipeline: db is required")
	}
	if v.Status != models.VideoDownloading {
		return fmt.Errorf("pipeline: video %s is %s, want %s", v.ID, v.Status, models.VideoDownloading)
	}
	logger := p.logger().With("video", v.ID, "job", v.JobID)
	dir := filepath.Join(p.WorkDir, v.ID)
	defer p.cleanup(dir, logger)

	opts, jobOpts := p.jobOptions(ctx, v, logger)
	mode := p.CaptionMode
	if jobOpts.Captions != "" {
		mode = jobOpts.Captions
	}
	if mode == "" {
		mode = CaptionsFallback
	}

	if mode == CaptionsPrefer {
		res, err := p.captionTranscript(ctx, v, opts.Language)
		if err == nil {
			return p.finish(ctx, v, res, models.SourceCaptions, dir, logger)
		}
		logger.Info("captions unavailable, transcribing", "error", err)
	}

	res, err := p.transcribeVideo(ctx, v, dir, opts, logger)
	if err != nil {
		if mode != CaptionsFallback || !captionsMayHelp(ctx, err) {
			return err
		}
		capRes, capErr := p.captionTranscript(ctx, v, opts.Language)
		if capErr != nil {
			logger.Warn("caption fallback failed", "error", capErr)
			return err
		}
		logger.Warn("transcription failed, using captions", "error", err)
		return p.finish(ctx, v, capRes, models.SourceCaptions, dir, logger)
	}

	if p.Diarizer != nil && (jobOpts.Diarize == nil || *jobOpts.Diarize) {
		if err := p.advance(ctx, v, models.VideoDiarizing, nil); err != nil {
			return err
		}
		start := time.Now()
		res.Segments = diarize.Apply(ctx, p.Diarizer, v.WavPath, res.Segments, logger)
		observe("diarize", start)
	}
	return p.finish(ctx, v, res, models.SourceTranscription, dir, logger)
}

// transcribeVideo runs download, transcode and transcription.
func (p *Processor) transcribeVideo(ctx context.Context, v *models.Video, dir string, opts transcribe.Options, logger *slog.Logger) (transcribe.Result, error) {
	start := time.Now()
	raw, err := p.Fetcher.Download(ctx, v.URL, dir)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("pipeline: download: %w", err)
	}
	observe("download", start)
	if err := p.advance(ctx, v, models.VideoTranscoding, map[string]any{"raw_path": raw}); err != nil {
		return transcribe.Result{}, err
	}
	v.RawPath = raw

	start = time.Now()
	wav := filepath.Join(dir, "audio.wav")
	if err := p.Transcoder.ToWAV(ctx, raw, wav); err != nil {
		return transcribe.Result{}, fmt.Errorf("pipeline: transcode: %w", err)
	}
	fields := map[string]any{"wav_path": wav}
	if v.Duration == 0 {
		if d, err := p.Transcoder.Duration(ctx, wav); err != nil {
			logger.Warn("duration probe failed", "error", err)
		} else {
			fields["duration"] = d
			v.Duration = d
		}
	}
	observe("transcode", start)
	if err := p.advance(ctx, v, models.VideoTranscribing, fields); err != nil {
		return transcribe.Result{}, err
	}
	v.WavPath = wav

	start = time.Now()
	chunks, err := p.Transcoder.Chunk(ctx, wav, filepath.Join(dir, "chunks"))
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("pipeline: chunk: %w", err)
	}
	res, err := p.Transcriber.Transcribe(ctx, chunks, opts)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("pipeline: transcribe: %w", err)
	}
	observe("transcribe", start)
	logger.Info("transcribed", "model", res.Model, "config", res.Config.String(), "segments", len(res.Segments), "chunks", len(chunks))
	return res, nil
}

// captionTranscript builds a transcript from the video's automatic captions.
func (p *Processor) captionTranscript(ctx context.Context, v *models.Video, language string) (transcribe.Result, error) {
	if p.Captions == nil {
		return transcribe.Result{}, fmt.Errorf("pipeline: captions not configured")
	}
	start := time.Now()
	meta, err := p.Fetcher.Metadata(ctx, v.URL)
	if err != nil {
		return transcribe.Result{}, err
	}
	langs := p.CaptionLanguages
	if language != "" {
		langs = append([]string{language}, langs...)
	}
	track, ok := captions.SelectTrack(meta, langs)
	if !ok {
		return transcribe.Result{}, fmt.Errorf("pipeline: no caption track for %v", langs)
	}
	cues, err := p.Captions.Fetch(ctx, track)
	if err != nil {
		return transcribe.Result{}, err
	}
	if len(cues) == 0 {
		return transcribe.Result{}, fmt.Errorf("pipeline: caption track %s is empty", track.Language)
	}
	observe("captions", start)

	res := transcribe.Result{Language: track.Language, Model: "captions:" + track.Language}
	for _, c := range cues {
		res.Segments = append(res.Segments, transcribe.Segment{Start: c.Start, End: c.End, Text: c.Text})
	}
	return res, nil
}

// finish persists, archives and announces a completed video.
func (p *Processor) finish(ctx context.Context, v *models.Video, res transcribe.Result, source, dir string, logger *slog.Logger) error {
	start := time.Now()
	tr, err := p.persist(ctx, v, res, source)
	if err != nil {
		return err
	}
	observe("persist", start)
	logger.Info("video completed", "source", source, "model", tr.Model, "segments", len(res.Segments))

	p.archive(ctx, v, logger)
	if p.Events != nil {
		ev := events.Event{
			Type:     events.VideoCompleted,
			JobID:    v.JobID,
			VideoID:  v.ID,
			Status:   models.VideoCompleted,
			Model:    tr.Model,
			Source:   source,
			Segments: len(res.Segments),
		}
		if err := p.Events.Publish(ctx, ev); err != nil {
			logger.Warn("publish event failed", "type", ev.Type, "error", err)
		}
	}
	return nil
}

// advance moves v to status in its own short update. The update only
// applies while v is still held by this worker in the status it last wrote.
func (p *Processor) advance(ctx context.Context, v *models.Video, to string, fields map[string]any) error {
	if !models.CanTransitionVideo(v.Status, to) {
		return fmt.Errorf("pipeline: video %s: invalid transition %s -> %s", v.ID, v.Status, to)
	}
	updates := map[string]any{"status": to}
	maps.Copy(updates, fields)
	res := p.DB.WithContext(ctx).Model(&models.Video{}).
		Where("id = ? AND status = ? AND claimed_by = ?", v.ID, v.Status, v.ClaimedBy).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("pipeline: set video %s %s: %w", v.ID, to, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("pipeline: set video %s %s: %w", v.ID, to, ErrClaimLost)
	}
	v.Status = to
	return nil
}

func (p *Processor) archive(ctx context.Context, v *models.Video, logger *slog.Logger) {
	if p.Artifacts == nil {
		return
	}
	for _, path := range []string{v.RawPath, v.WavPath} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		dst, err := p.Artifacts.Put(ctx, artifacts.Key(v.JobID, v.ID, path), path)
		if err != nil {
			logger.Warn("archive artifact failed", "path", path, "error", err)
			continue
		}
		logger.Debug("archived artifact", "path", path, "dest", dst)
	}
}

func (p *Processor) cleanup(dir string, logger *slog.Logger) {
	if p.KeepLocal || p.WorkDir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		logger.Warn("remove work dir failed", "dir", dir, "error", err)
	}
}

// jobOptions merges the owning job's overrides into the decoding options.
func (p *Processor) jobOptions(ctx context.Context, v *models.Video, logger *slog.Logger) (transcribe.Options, models.JobOptions) {
	opts := p.Options
	var job models.Job
	if err := p.DB.WithContext(ctx).Select("id", "meta").Where("id = ?", v.JobID).First(&job).Error; err != nil {
		logger.Warn("load job options failed", "error", err)
		return opts, models.JobOptions{}
	}
	jo, err := job.Options()
	if err != nil {
		logger.Warn("ignoring job options", "error", err)
		return opts, models.JobOptions{}
	}
	if jo.Language != "" {
		opts.Language = jo.Language
	}
	return opts, jo
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// captionsMayHelp rules out failures where captions cannot exist or the
// worker no longer owns the video.
func captionsMayHelp(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrClaimLost) {
		return false
	}
	return resilience.ClassifyError(err) != resilience.ClassNotFound
}

func observe(stage string, start time.Time) {
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
