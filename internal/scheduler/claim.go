// Package scheduler runs the polling loop that expands jobs into videos,
// recovers stuck work, requeues videos for better models, and claims one
// pending video at a time for processing.
package scheduler

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zulandar/reelyard/internal/models"
)

// ClaimVideo atomically finds the oldest pending video and assigns it to the
// worker, marking it downloading. It uses SELECT ... FOR UPDATE SKIP LOCKED
// so concurrent workers never see the same row, and commits immediately.
// When nothing is claimable the error wraps gorm.ErrRecordNotFound.
//
// On stores without row locks the status guard on the update keeps the claim
// exclusive; the losing transaction simply finds nothing.
func ClaimVideo(db *gorm.DB, workerID string) (*models.Video, error) {
	if workerID == "" {
		return nil, fmt.Errorf("scheduler: workerID is required")
	}

	var claimed models.Video
	err := db.Transaction(func(tx *gorm.DB) error {
		result := tx.Where("status = ?", models.VideoPending).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Order("created_at ASC, idx ASC").
			Limit(1).
			Find(&claimed)
		if result.Error != nil {
			return fmt.Errorf("scheduler: find pending video: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("scheduler: no pending videos: %w", gorm.ErrRecordNotFound)
		}

		now := time.Now()
		upd := tx.Model(&models.Video{}).
			Where("id = ? AND status = ?", claimed.ID, models.VideoPending).
			Updates(map[string]interface{}{
				"status":     models.VideoDownloading,
				"claimed_by": workerID,
				"claimed_at": now,
				"error":      nil,
			})
		if upd.Error != nil {
			return fmt.Errorf("scheduler: claim video %s: %w", claimed.ID, upd.Error)
		}
		if upd.RowsAffected == 0 {
			return fmt.Errorf("scheduler: video %s already claimed: %w", claimed.ID, gorm.ErrRecordNotFound)
		}
		claimed.Status = models.VideoDownloading
		claimed.ClaimedBy = workerID
		claimed.ClaimedAt = &now
		claimed.Error = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

// ReleaseVideo hands a claimed video back to the pending pool, used when a
// worker shuts down mid-processing.
func ReleaseVideo(db *gorm.DB, videoID, workerID string) error {
	result := db.Model(&models.Video{}).
		Where("id = ? AND claimed_by = ? AND status IN ?", videoID, workerID, models.InFlightStatuses).
		Updates(map[string]interface{}{
			"status":     models.VideoPending,
			"claimed_by": "",
			"claimed_at": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("scheduler: release video %s: %w", videoID, result.Error)
	}
	return nil
}

// MarkVideoFailed records a processing failure with a truncated message. It
// only applies while the worker still holds the claim.
func MarkVideoFailed(db *gorm.DB, videoID, workerID, msg string, maxLen int) (bool, error) {
	errText := TruncateError(msg, maxLen)
	result := db.Model(&models.Video{}).
		Where("id = ? AND claimed_by = ? AND status IN ?", videoID, workerID, models.InFlightStatuses).
		Updates(map[string]interface{}{
			"status": models.VideoFailed,
			"error":  errText,
		})
	if result.Error != nil {
		return false, fmt.Errorf("scheduler: mark video %s failed: %w", videoID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// TruncateError shortens msg to at most maxLen runes.
func TruncateError(msg string, maxLen int) string {
	if maxLen <= 0 {
		return msg
	}
	r := []rune(msg)
	if len(r) <= maxLen {
		return msg
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
