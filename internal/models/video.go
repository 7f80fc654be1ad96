package models

import "time"

// Video statuses.
const (
	VideoPending      = "pending"
	VideoDownloading  = "downloading"
	VideoTranscoding  = "transcoding"
	VideoTranscribing = "transcribing"
	VideoDiarizing    = "diarizing"
	VideoCompleted    = "completed"
	VideoFailed       = "failed"
)

// InFlightStatuses are the statuses a crashed worker can leave a video in.
var InFlightStatuses = []string{VideoDownloading, VideoTranscoding, VideoTranscribing, VideoDiarizing}

// Video is one unit of work: a single source item to download, transcribe
// and persist.
type Video struct {
	ID         string  `gorm:"primaryKey;size:36"`
	JobID      string  `gorm:"size:36;not null;uniqueIndex:idx_video_job_idx"`
	ExternalID string  `gorm:"size:64;index"`
	URL        string  `gorm:"size:2048"`
	Idx        int     `gorm:"not null;uniqueIndex:idx_video_job_idx"`
	Title      string  `gorm:"size:512"`
	Duration   float64 `gorm:"default:0"`
	Status     string  `gorm:"size:16;default:pending;index"`
	Error      *string `gorm:"type:text"`
	RawPath    string  `gorm:"size:1024"`
	WavPath    string  `gorm:"size:1024"`
	ClaimedBy  string  `gorm:"size:64"`
	ClaimedAt  *time.Time
	CreatedAt  time.Time `gorm:"index"`
	UpdatedAt  time.Time `gorm:"index"`

	Job        *Job        `gorm:"foreignKey:JobID"`
	Transcript *Transcript `gorm:"foreignKey:VideoID"`
}

// IsTerminal reports whether status is completed or failed.
func IsTerminal(status string) bool {
	return status == VideoCompleted || status == VideoFailed
}

// videoTransitions lists the normal forward edges. Rescue (in-flight to
// pending) and requeue (completed to pending) are included so callers can
// check them the same way.
var videoTransitions = map[string][]string{
	VideoPending:      {VideoDownloading, VideoFailed},
	VideoDownloading:  {VideoTranscoding, VideoCompleted, VideoFailed, VideoPending},
	VideoTranscoding:  {VideoTranscribing, VideoCompleted, VideoFailed, VideoPending},
	VideoTranscribing: {VideoDiarizing, VideoCompleted, VideoFailed, VideoPending},
	VideoDiarizing:    {VideoCompleted, VideoFailed, VideoPending},
	VideoCompleted:    {VideoPending},
	VideoFailed:       {VideoPending},
}

// CanTransitionVideo reports whether a video may move from one status to another.
func CanTransitionVideo(from, to string) bool {
	for _, s := range videoTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
