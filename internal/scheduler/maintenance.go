package scheduler

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/zulandar/reelyard/internal/models"
	"github.com/zulandar/reelyard/internal/transcribe"
)

// RescueStuckVideos resets in-flight videos whose updated_at is older than
// threshold back to pending and clears their claim. A live worker keeps
// updated_at fresh through its heartbeat, so only abandoned claims match.
func RescueStuckVideos(db *gorm.DB, threshold time.Duration) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("scheduler: db is required")
	}
	if threshold <= 0 {
		return 0, fmt.Errorf("scheduler: threshold must be positive")
	}

	cutoff := time.Now().Add(-threshold)
	result := db.Model(&models.Video{}).
		Where("status IN ? AND updated_at < ?", models.InFlightStatuses, cutoff).
		Updates(map[string]interface{}{
			"status":     models.VideoPending,
			"claimed_by": "",
			"claimed_at": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("scheduler: rescue stuck videos: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// upgradeCandidate is a completed video and the model its transcript was
// requested with.
type upgradeCandidate struct {
	VideoID string
	Model   string
}

// transcriptModel is the model a transcript is judged by: the configured
// primary it ran under, or the producing model for rows that predate it.
const transcriptModel = "COALESCE(NULLIF(transcripts.requested_model, ''), transcripts.model)"

// RequeueForUpgrade resets up to limit completed videos whose transcript
// model ranks strictly below model back to pending. A transcript that fell
// back to a smaller model under the same configured primary is left alone,
// as running it again would fall back the same way. Transcripts from
// captions or unranked models are never requeued.
func RequeueForUpgrade(db *gorm.DB, model string, ranking transcribe.Ranking, limit int) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("scheduler: db is required")
	}
	if _, ok := ranking.Rank(model); !ok {
		return 0, nil
	}

	var rows []upgradeCandidate
	err := db.Table("transcripts").
		Select("transcripts.video_id AS video_id, "+transcriptModel+" AS model").
		Joins("JOIN videos ON videos.id = transcripts.video_id").
		Where("videos.status = ? AND "+transcriptModel+" <> ?", models.VideoCompleted, model).
		Order("videos.updated_at ASC").
		Scan(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("scheduler: find upgrade candidates: %w", err)
	}

	var ids []string
	for _, r := range rows {
		if limit > 0 && len(ids) >= limit {
			break
		}
		if ranking.Below(r.Model, model) {
			ids = append(ids, r.VideoID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	result := db.Model(&models.Video{}).
		Where("id IN ? AND status = ?", ids, models.VideoCompleted).
		Updates(map[string]interface{}{
			"status":     models.VideoPending,
			"claimed_by": "",
			"claimed_at": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("scheduler: requeue for upgrade: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// FinishedJob is a job FinalizeJobs moved to a terminal status.
type FinishedJob struct {
	ID     string
	Status string
}

// FinalizeJobs closes downloading jobs whose videos are all terminal: the job
// completes if any video completed and fails if every video failed.
func FinalizeJobs(db *gorm.DB) ([]FinishedJob, error) {
	if db == nil {
		return nil, fmt.Errorf("scheduler: db is required")
	}

	open := db.Model(&models.Video{}).
		Select("1").
		Where("videos.job_id = jobs.id AND videos.status NOT IN ?", []string{models.VideoCompleted, models.VideoFailed})
	var jobs []models.Job
	if err := db.Where("status = ?", models.JobDownloading).
		Where("NOT EXISTS (?)", open).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("scheduler: find finished jobs: %w", err)
	}

	var out []FinishedJob
	for _, job := range jobs {
		var completed int64
		if err := db.Model(&models.Video{}).
			Where("job_id = ? AND status = ?", job.ID, models.VideoCompleted).
			Count(&completed).Error; err != nil {
			return out, fmt.Errorf("scheduler: count videos for job %s: %w", job.ID, err)
		}
		status := models.JobCompleted
		if completed == 0 {
			status = models.JobFailed
		}
		result := db.Model(&models.Job{}).
			Where("id = ? AND status = ?", job.ID, models.JobDownloading).
			Update("status", status)
		if result.Error != nil {
			return out, fmt.Errorf("scheduler: finalize job %s: %w", job.ID, result.Error)
		}
		if result.RowsAffected > 0 {
			out = append(out, FinishedJob{ID: job.ID, Status: status})
		}
	}
	return out, nil
}
