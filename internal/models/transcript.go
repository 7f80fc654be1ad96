package models

import "time"

// Transcript sources.
const (
	SourceTranscription = "transcription"
	SourceCaptions      = "captions"
)

// Transcript is the single live transcription result for a video.
type Transcript struct {
	ID        string `gorm:"primaryKey;size:36"`
	VideoID   string `gorm:"size:36;not null;uniqueIndex"`
	FullText  string `gorm:"type:text"`
	Language  string `gorm:"size:16"`
	Model     string `gorm:"size:64;index"`
	Source    string `gorm:"size:16;default:transcription"`
	CreatedAt time.Time

	// RequestedModel is the primary model configured when the transcript was
	// produced. Model differs from it when the chain fell back.
	RequestedModel string `gorm:"size:64"`

	Segments []Segment `gorm:"foreignKey:TranscriptID"`
}

// Segment is one timed span of a transcript.
type Segment struct {
	ID               uint    `gorm:"primaryKey;autoIncrement"`
	TranscriptID     string  `gorm:"size:36;not null;index"`
	VideoID          string  `gorm:"size:36;not null;index"`
	Idx              int     `gorm:"not null"`
	StartMS          int64   `gorm:"not null"`
	EndMS            int64   `gorm:"not null"`
	Text             string  `gorm:"type:text"`
	Speaker          *string `gorm:"size:32"`
	AvgLogprob       *float64
	NoSpeechProb     *float64
	CompressionRatio *float64
}
