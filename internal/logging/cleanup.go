package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/models"
	"gorm.io/gorm"
)

// PurgeOlderThan deletes system_logs records older than the retention window.
func PurgeOlderThan(ctx context.Context, db *gorm.DB, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	result := db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&models.SystemLog{})
	return result.RowsAffected, result.Error
}

// StartCleanup purges expired system_logs once a day until ctx ends.
func StartCleanup(ctx context.Context, db *gorm.DB, retentionDays int) {
	retention := time.Duration(retentionDays) * 24 * time.Hour
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				deleted, err := PurgeOlderThan(ctx, db, retention)
				if err != nil {
					slog.Error("log cleanup failed", "action", "log_cleanup", "error", err.Error())
				} else if deleted > 0 {
					slog.Info("log cleanup completed", "deleted", deleted)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
