package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zulandar/reelyard/internal/models"
	"github.com/zulandar/reelyard/internal/transcribe"
)

// segmentBatchSize bounds each multi-row insert.
const segmentBatchSize = 500

// persist replaces the video's transcript and segments and marks it
// completed, all in one transaction.
func (p *Processor) persist(ctx context.Context, v *models.Video, res transcribe.Result, source string) (*models.Transcript, error) {
	if !models.CanTransitionVideo(v.Status, models.VideoCompleted) {
		return nil, fmt.Errorf("pipeline: video %s: invalid transition %s -> %s", v.ID, v.Status, models.VideoCompleted)
	}
	tr := &models.Transcript{
		ID:       uuid.NewString(),
		VideoID:  v.ID,
		FullText: res.Text(),
		Language: res.Language,
		Model:    res.Model,
		Source:   source,

		RequestedModel: res.Requested,
	}
	segs := BuildSegments(tr.ID, v.ID, res.Segments)

	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("video_id = ?", v.ID).Delete(&models.Segment{}).Error; err != nil {
			return fmt.Errorf("pipeline: delete segments: %w", err)
		}
		if err := tx.Where("video_id = ?", v.ID).Delete(&models.Transcript{}).Error; err != nil {
			return fmt.Errorf("pipeline: delete transcript: %w", err)
		}
		if err := tx.Create(tr).Error; err != nil {
			return fmt.Errorf("pipeline: create transcript: %w", err)
		}
		if len(segs) > 0 {
			if err := tx.CreateInBatches(segs, segmentBatchSize).Error; err != nil {
				return fmt.Errorf("pipeline: create segments: %w", err)
			}
		}
		result := tx.Model(&models.Video{}).
			Where("id = ? AND status = ? AND claimed_by = ?", v.ID, v.Status, v.ClaimedBy).
			Updates(map[string]any{"status": models.VideoCompleted, "error": nil})
		if result.Error != nil {
			return fmt.Errorf("pipeline: complete video: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("pipeline: complete video %s: %w", v.ID, ErrClaimLost)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	v.Status = models.VideoCompleted
	v.Error = nil
	return tr, nil
}

// BuildSegments converts recognised segments to rows, in order, with times
// in milliseconds. Blank segments are dropped.
func BuildSegments(transcriptID, videoID string, in []transcribe.Segment) []models.Segment {
	out := make([]models.Segment, 0, len(in))
	for _, s := range in {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		row := models.Segment{
			TranscriptID:     transcriptID,
			VideoID:          videoID,
			Idx:              len(out),
			StartMS:          toMS(s.Start),
			EndMS:            toMS(s.End),
			Text:             text,
			AvgLogprob:       s.AvgLogprob,
			NoSpeechProb:     s.NoSpeechProb,
			CompressionRatio: s.CompressionRatio,
		}
		if s.Speaker != "" {
			sp := s.Speaker
			row.Speaker = &sp
		}
		if row.EndMS < row.StartMS {
			row.EndMS = row.StartMS
		}
		out = append(out, row)
	}
	return out
}

func toMS(sec float64) int64 {
	return int64(math.Round(sec * 1000))
}
