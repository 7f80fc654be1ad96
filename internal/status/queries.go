package status

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/zulandar/reelyard/internal/models"
)

// Summary holds job, video and transcript counts.
type Summary struct {
	Jobs        map[string]int64 `json:"jobs"`
	Videos      map[string]int64 `json:"videos"`
	Transcripts map[string]int64 `json:"transcripts"` // by model
	InFlight    int64            `json:"in_flight"`
}

type countRow struct {
	Name  string
	Count int64
}

// Summarize counts jobs and videos by status and transcripts by model.
func Summarize(db *gorm.DB) (Summary, error) {
	if db == nil {
		return Summary{}, fmt.Errorf("status: db is required")
	}
	var s Summary
	var err error
	if s.Jobs, err = countBy(db.Model(&models.Job{}), "status"); err != nil {
		return s, fmt.Errorf("status: count jobs: %w", err)
	}
	if s.Videos, err = countBy(db.Model(&models.Video{}), "status"); err != nil {
		return s, fmt.Errorf("status: count videos: %w", err)
	}
	if s.Transcripts, err = countBy(db.Model(&models.Transcript{}), "model"); err != nil {
		return s, fmt.Errorf("status: count transcripts: %w", err)
	}
	for _, st := range models.InFlightStatuses {
		s.InFlight += s.Videos[st]
	}
	return s, nil
}

func countBy(q *gorm.DB, column string) (map[string]int64, error) {
	var rows []countRow
	if err := q.Select(column + " AS name, count(*) AS count").
		Group(column).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Name] = r.Count
	}
	return out, nil
}

// FailureRow is a failed video shown by the status endpoints.
type FailureRow struct {
	VideoID   string    `json:"video_id"`
	JobID     string    `json:"job_id"`
	URL       string    `json:"url"`
	Error     string    `json:"error"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecentFailures returns the most recently failed videos, newest first.
func RecentFailures(db *gorm.DB, limit int) ([]FailureRow, error) {
	if db == nil {
		return nil, fmt.Errorf("status: db is required")
	}
	if limit <= 0 {
		limit = 20
	}
	var videos []models.Video
	if err := db.Where("status = ?", models.VideoFailed).
		Order("updated_at DESC").
		Limit(limit).
		Find(&videos).Error; err != nil {
		return nil, fmt.Errorf("status: recent failures: %w", err)
	}
	rows := make([]FailureRow, len(videos))
	for i, v := range videos {
		rows[i] = FailureRow{VideoID: v.ID, JobID: v.JobID, URL: v.URL, UpdatedAt: v.UpdatedAt}
		if v.Error != nil {
			rows[i].Error = *v.Error
		}
	}
	return rows, nil
}
