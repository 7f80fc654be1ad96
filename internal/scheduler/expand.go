package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zulandar/reelyard/internal/fetch"
	"github.com/zulandar/reelyard/internal/metrics"
	"github.com/zulandar/reelyard/internal/models"
	"github.com/zulandar/reelyard/internal/resilience"
)

// expandBatch caps how many jobs one tick expands.
const expandBatch = 10

// Expander resolves a job's input URL into ordered entries.
type Expander interface {
	Expand(ctx context.Context, kind, inputURL string) ([]fetch.Entry, error)
}

// ExpandResult summarises one ExpandPendingJobs pass.
type ExpandResult struct {
	Expanded []string // job IDs that now have videos
	Failed   []string // job IDs marked failed
	Deferred int      // jobs left pending for a later tick
}

// ExpandOpts bounds expansion.
type ExpandOpts struct {
	MaxAttempts    int
	ErrorMaxLength int
	Logger         *slog.Logger
}

// ExpandPendingJobs expands pending jobs that have no videos yet. Each job is
// handled independently: one failing expansion does not stop the others.
func ExpandPendingJobs(ctx context.Context, db *gorm.DB, expander Expander, opts ExpandOpts) (ExpandResult, error) {
	var res ExpandResult
	if db == nil {
		return res, fmt.Errorf("scheduler: db is required")
	}
	if expander == nil {
		return res, fmt.Errorf("scheduler: expander is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	children := db.Model(&models.Video{}).Select("1").Where("videos.job_id = jobs.id")
	var jobs []models.Job
	if err := db.Where("status = ?", models.JobPending).
		Where("NOT EXISTS (?)", children).
		Order("created_at ASC").
		Limit(expandBatch).
		Find(&jobs).Error; err != nil {
		return res, fmt.Errorf("scheduler: find pending jobs: %w", err)
	}

	for i := range jobs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		job := &jobs[i]
		entries, err := expander.Expand(ctx, job.Kind, job.InputURL)
		if err != nil {
			failed, ferr := recordExpandFailure(db, job, err, opts)
			if ferr != nil {
				logger.Error("record expansion failure", "job", job.ID, "error", ferr)
				continue
			}
			if failed {
				res.Failed = append(res.Failed, job.ID)
				metrics.JobsExpanded.WithLabelValues(job.Kind, "failed").Inc()
				logger.Warn("job expansion failed permanently", "job", job.ID, "error", err)
			} else {
				res.Deferred++
				metrics.JobsExpanded.WithLabelValues(job.Kind, "deferred").Inc()
				logger.Warn("job expansion failed, will retry", "job", job.ID, "attempt", job.Attempts+1, "error", err)
			}
			continue
		}

		n, err := insertVideos(db, job, entries)
		if err != nil {
			logger.Error("insert videos", "job", job.ID, "error", err)
			continue
		}
		if n < 0 {
			continue
		}
		res.Expanded = append(res.Expanded, job.ID)
		metrics.JobsExpanded.WithLabelValues(job.Kind, "expanded").Inc()
		logger.Info("job expanded", "job", job.ID, "kind", job.Kind, "videos", n)
	}
	return res, nil
}

// recordExpandFailure bumps the job's attempt count and fails it when the
// input is gone or attempts are used up. Auth failures are usually a
// temporary bot check, so they spend attempts like any other class.
func recordExpandFailure(db *gorm.DB, job *models.Job, cause error, opts ExpandOpts) (bool, error) {
	class := resilience.ClassifyError(cause)
	attempts := job.Attempts + 1
	msg := TruncateError(cause.Error(), opts.ErrorMaxLength)
	permanent := class == resilience.ClassNotFound ||
		(opts.MaxAttempts > 0 && attempts >= opts.MaxAttempts)

	updates := map[string]interface{}{"attempts": attempts, "error": msg}
	if permanent {
		updates["status"] = models.JobFailed
	}
	result := db.Model(&models.Job{}).
		Where("id = ? AND status = ?", job.ID, models.JobPending).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("scheduler: update job %s: %w", job.ID, result.Error)
	}
	return permanent && result.RowsAffected > 0, nil
}

// insertVideos creates one pending video per entry and advances the job in
// one transaction. It returns -1 when another worker got there first.
func insertVideos(db *gorm.DB, job *models.Job, entries []fetch.Entry) (int, error) {
	next := models.JobDownloading
	if len(entries) == 0 {
		next = models.JobCompleted
	}

	n := -1
	err := db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Job{}).
			Where("id = ? AND status = ?", job.ID, models.JobPending).
			Updates(map[string]interface{}{"status": next, "error": nil})
		if result.Error != nil {
			return fmt.Errorf("scheduler: advance job %s: %w", job.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}

		videos := make([]models.Video, 0, len(entries))
		for i, e := range entries {
			url := e.URL
			if url == "" {
				url = job.InputURL
			}
			videos = append(videos, models.Video{
				ID:         uuid.NewString(),
				JobID:      job.ID,
				ExternalID: e.ID,
				URL:        url,
				Idx:        i,
				Title:      e.Title,
				Duration:   e.Duration,
				Status:     models.VideoPending,
			})
		}
		if len(videos) > 0 {
			if err := tx.CreateInBatches(videos, 200).Error; err != nil {
				return fmt.Errorf("scheduler: create videos for job %s: %w", job.ID, err)
			}
		}
		n = len(videos)
		return nil
	})
	if err != nil {
		return -1, err
	}
	return n, nil
}
