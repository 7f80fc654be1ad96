// Package job provides job and video lifecycle operations used by the CLI.
package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zulandar/reelyard/internal/models"
)

// Caption modes accepted in job options.
var captionModes = []string{"off", "fallback", "prefer"}

// CreateOpts holds parameters for submitting a new job.
type CreateOpts struct {
	URL      string
	Kind     string // single or channel; detected from URL when empty
	Language string
	Captions string
	Diarize  *bool
}

// ListFilters holds optional filters for listing jobs.
type ListFilters struct {
	Status string
	Kind   string
	Limit  int
}

// VideoFilters holds optional filters for listing videos.
type VideoFilters struct {
	JobID  string
	Status string
	Limit  int
}

// DetectKind guesses the job kind from a URL: channel, handle, user and
// playlist URLs are channels, everything else is a single video.
func DetectKind(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return models.JobKindSingle
	}
	p := u.Path
	switch {
	case strings.HasPrefix(p, "/@"),
		strings.HasPrefix(p, "/channel/"),
		strings.HasPrefix(p, "/c/"),
		strings.HasPrefix(p, "/user/"),
		strings.HasPrefix(p, "/playlist"):
		return models.JobKindChannel
	}
	return models.JobKindSingle
}

// Create inserts a pending job. Expansion into videos happens in the
// scheduler.
func Create(db *gorm.DB, opts CreateOpts) (*models.Job, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, fmt.Errorf("job: url is required")
	}
	if opts.Kind == "" {
		opts.Kind = DetectKind(opts.URL)
	}
	if opts.Kind != models.JobKindSingle && opts.Kind != models.JobKindChannel {
		return nil, fmt.Errorf("job: invalid kind %q (must be single or channel)", opts.Kind)
	}
	if opts.Captions != "" && !slices.Contains(captionModes, opts.Captions) {
		return nil, fmt.Errorf("job: invalid captions mode %q (must be one of %s)", opts.Captions, strings.Join(captionModes, ", "))
	}

	j := models.Job{
		ID:       uuid.NewString(),
		Kind:     opts.Kind,
		InputURL: strings.TrimSpace(opts.URL),
		Status:   models.JobPending,
	}
	meta := models.JobOptions{Language: opts.Language, Captions: opts.Captions, Diarize: opts.Diarize}
	if meta != (models.JobOptions{}) {
		data, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("job: encode options: %w", err)
		}
		j.Meta = datatypes.JSON(data)
	}

	if err := db.Create(&j).Error; err != nil {
		return nil, fmt.Errorf("job: create: %w", err)
	}
	return &j, nil
}

// Get retrieves a job by ID with its videos in index order.
func Get(db *gorm.DB, id string) (*models.Job, error) {
	var j models.Job
	err := db.Preload("Videos", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("idx ASC")
	}).Where("id = ?", id).First(&j).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("job: not found: %s", id)
		}
		return nil, fmt.Errorf("job: get %s: %w", id, err)
	}
	return &j, nil
}

// List returns jobs matching filters, newest first.
func List(db *gorm.DB, filters ListFilters) ([]models.Job, error) {
	q := db.Model(&models.Job{})
	if filters.Status != "" {
		q = q.Where("status = ?", filters.Status)
	}
	if filters.Kind != "" {
		q = q.Where("kind = ?", filters.Kind)
	}
	if filters.Limit > 0 {
		q = q.Limit(filters.Limit)
	}

	var jobs []models.Job
	if err := q.Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("job: list: %w", err)
	}
	return jobs, nil
}

// ListVideos returns videos matching filters, ordered by job then index.
func ListVideos(db *gorm.DB, filters VideoFilters) ([]models.Video, error) {
	q := db.Model(&models.Video{})
	if filters.JobID != "" {
		q = q.Where("job_id = ?", filters.JobID)
	}
	if filters.Status != "" {
		q = q.Where("status = ?", filters.Status)
	}
	if filters.Limit > 0 {
		q = q.Limit(filters.Limit)
	}

	var videos []models.Video
	if err := q.Order("created_at ASC, idx ASC").Find(&videos).Error; err != nil {
		return nil, fmt.Errorf("job: list videos: %w", err)
	}
	return videos, nil
}

// RetryVideo moves a failed video back to pending. A finalized job keeps its
// status, the same as for a model-upgrade requeue.
func RetryVideo(db *gorm.DB, videoID string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var v models.Video
		if err := tx.Where("id = ?", videoID).First(&v).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("job: video not found: %s", videoID)
			}
			return fmt.Errorf("job: get video %s: %w", videoID, err)
		}
		if v.Status != models.VideoFailed {
			return fmt.Errorf("job: video %s is %s, only failed videos can be retried", videoID, v.Status)
		}

		if err := tx.Model(&models.Video{}).
			Where("id = ? AND status = ?", videoID, models.VideoFailed).
			Updates(map[string]interface{}{
				"status":     models.VideoPending,
				"error":      nil,
				"claimed_by": "",
				"claimed_at": nil,
			}).Error; err != nil {
			return fmt.Errorf("job: retry video %s: %w", videoID, err)
		}
		return nil
	})
}

// StatusCounts returns video counts by status for one job.
func StatusCounts(db *gorm.DB, jobID string) (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	if err := db.Model(&models.Video{}).
		Select("status, COUNT(*) as count").
		Where("job_id = ?", jobID).
		Group("status").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("job: status counts for %s: %w", jobID, err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}
