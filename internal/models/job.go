package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Job kinds.
const (
	JobKindSingle  = "single"
	JobKindChannel = "channel"
)

// Job statuses. "downloading" means expansion is done and child videos exist.
const (
	JobPending     = "pending"
	JobDownloading = "downloading"
	JobCompleted   = "completed"
	JobFailed      = "failed"
)

// Job is a submitted ingestion request for one video or a whole channel.
type Job struct {
	ID        string         `gorm:"primaryKey;size:36"`
	Kind      string         `gorm:"size:16;not null"`
	InputURL  string         `gorm:"size:2048;not null"`
	Status    string         `gorm:"size:16;default:pending;index"`
	Error     *string        `gorm:"type:text"`
	Meta      datatypes.JSON
	Attempts  int            `gorm:"default:0"`
	CreatedAt time.Time      `gorm:"index"`
	UpdatedAt time.Time

	Videos []Video `gorm:"foreignKey:JobID"`
}

var jobTransitions = map[string][]string{
	JobPending:     {JobDownloading, JobCompleted, JobFailed},
	JobDownloading: {JobCompleted, JobFailed},
}

// CanTransitionJob reports whether a job may move from one status to another.
func CanTransitionJob(from, to string) bool {
	for _, s := range jobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// JobOptions are the per-job overrides carried in Job.Meta.
type JobOptions struct {
	Language string `json:"language,omitempty"`
	Captions string `json:"captions,omitempty"` // off, fallback or prefer
	Diarize  *bool  `json:"diarize,omitempty"`
}

// Options decodes Meta. An empty Meta yields zero options.
func (j *Job) Options() (JobOptions, error) {
	var opts JobOptions
	if len(j.Meta) == 0 || string(j.Meta) == "null" {
		return opts, nil
	}
	if err := json.Unmarshal(j.Meta, &opts); err != nil {
		return opts, fmt.Errorf("models: decode job %s meta: %w", j.ID, err)
	}
	return opts, nil
}
