package scheduler

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/zulandar/reelyard/internal/models"
)

// DefaultHeartbeatInterval is used when no interval is configured.
const DefaultHeartbeatInterval = time.Minute

// StartHeartbeat launches a goroutine that periodically touches the video's
// updated_at so rescue leaves it alone. The returned channel receives an
// error if the claim disappears (0 rows affected) or the update fails.
func StartHeartbeat(ctx context.Context, db *gorm.DB, videoID, workerID string, interval time.Duration) <-chan error {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}

	errCh := make(chan error, 1)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				result := db.WithContext(ctx).Model(&models.Video{}).
					Where("id = ? AND claimed_by = ? AND status IN ?", videoID, workerID, models.InFlightStatuses).
					Update("updated_at", time.Now())

				if ctx.Err() != nil {
					return
				}
				if result.Error != nil {
					errCh <- fmt.Errorf("scheduler: heartbeat %s: %w", videoID, result.Error)
					return
				}
				if result.RowsAffected == 0 {
					errCh <- fmt.Errorf("scheduler: heartbeat %s: claim no longer held", videoID)
					return
				}
			}
		}
	}()

	return errCh
}
