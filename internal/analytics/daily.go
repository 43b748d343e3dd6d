// Package analytics maintains the daily summary aggregates backing the
// stats API. Aggregates are recomputed from the fact tables and are never
// purged by retention.
package analytics

import (
	"fmt"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"webstats/internal/sessions"
	"webstats/internal/views"
	"webstats/internal/visitors"
)

// DailyStat is one day's totals. Date is the reporting-timezone day as
// YYYY-MM-DD.
type DailyStat struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Date      string `gorm:"uniqueIndex;size:10;not null"`
	Visitors  int64  `gorm:"not null;default:0"`
	Sessions  int64  `gorm:"not null;default:0"`
	Views     int64  `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

// RecomputeDay rebuilds the aggregate row for the day containing t.
func RecomputeDay(db *gorm.DB, logger *slog.Logger, t time.Time, loc *time.Location) error {
	start, end := sessions.DayWindow(t, loc)
	date := start.Format("2006-01-02")

	var visitorCount, sessionCount, viewCount int64

	if err := db.Model(&visitors.Visitor{}).
		Where("created_at >= ? AND created_at < ?", start.UTC(), end.UTC()).
		Count(&visitorCount).Error; err != nil {
		return fmt.Errorf("failed to count visitors for %s: %w", date, err)
	}
	if err := db.Model(&sessions.Session{}).
		Where("started_at >= ? AND started_at < ?", start.UTC(), end.UTC()).
		Count(&sessionCount).Error; err != nil {
		return fmt.Errorf("failed to count sessions for %s: %w", date, err)
	}
	if err := db.Model(&views.View{}).
		Where("viewed_at >= ? AND viewed_at < ?", start.UTC(), end.UTC()).
		Count(&viewCount).Error; err != nil {
		return fmt.Errorf("failed to count views for %s: %w", date, err)
	}

	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Exec(`
            INSERT INTO daily_stats (date, visitors, sessions, views, updated_at)
            VALUES (?, ?, ?, ?, ?)
            ON CONFLICT(date) DO UPDATE SET
                visitors = excluded.visitors,
                sessions = excluded.sessions,
                views = excluded.views,
                updated_at = excluded.updated_at
        `, date, visitorCount, sessionCount, viewCount, time.Now().UTC()).Error
	})
	if err != nil {
		return fmt.Errorf("failed to upsert daily stat for %s: %w", date, err)
	}
	return nil
}

// Summary returns the aggregates for [from, to], newest first.
func Summary(db *gorm.DB, from, to time.Time) ([]DailyStat, error) {
	var stats []DailyStat
	err := db.Where("date >= ? AND date <= ?",
		from.Format("2006-01-02"), to.Format("2006-01-02")).
		Order("date DESC").
		Find(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	return stats, nil
}
