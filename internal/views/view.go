// Package views owns the view fact table and the forward-linked chain of
// views within a session.
package views

import (
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// View is one pageview. Views in a session form a forward-linked chain
// ordered by viewed_at: each row is updated exactly once, when the next view
// arrives, to set next_view_id and duration. The newest view keeps NULL for
// both; a single-view session keeps them NULL forever (unknown dwell time,
// not zero).
type View struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	SessionID  uint      `gorm:"index:idx_session_viewed;not null"`
	ResourceID uint      `gorm:"index;not null"`
	ViewedAt   time.Time `gorm:"index:idx_session_viewed;not null"`
	NextViewID *uint
	DurationMs *int64
}

// Result reports the inserted view and, when a previous view was chained,
// the duration written onto it.
type Result struct {
	ViewID         uint
	PrevViewID     *uint
	PrevDurationMs *int64
}

// Recorder maintains the view chain.
type Recorder struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRecorder(db *gorm.DB, logger *slog.Logger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

// Record inserts a view and back-fills the previous view's next_view_id and
// duration. Duration is the gap to the previous view in milliseconds,
// floored at zero to protect against clock skew.
func (r *Recorder) Record(sessionID, resourceID uint, now time.Time) (Result, error) {
	if sessionID == 0 || resourceID == 0 {
		return Result{}, errors.New("view requires a resolved session and resource")
	}

	prev, err := r.lastViewForSession(sessionID)
	if err != nil {
		return Result{}, err
	}

	view := &View{
		SessionID:  sessionID,
		ResourceID: resourceID,
		ViewedAt:   now.UTC(),
	}
	err = sqlite.PerformWrite(r.logger, r.db, func(tx *gorm.DB) error {
		if err := tx.Create(view).Error; err != nil {
			return err
		}
		if prev == nil {
			return nil
		}
		duration := view.ViewedAt.Sub(prev.ViewedAt).Milliseconds()
		if duration < 0 {
			duration = 0
		}
		return tx.Model(&View{}).Where("id = ?", prev.ID).Updates(map[string]any{
			"next_view_id": view.ID,
			"duration_ms":  duration,
		}).Error
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to record view: %w", err)
	}

	result := Result{ViewID: view.ID}
	if prev != nil {
		duration := view.ViewedAt.Sub(prev.ViewedAt).Milliseconds()
		if duration < 0 {
			duration = 0
		}
		result.PrevViewID = &prev.ID
		result.PrevDurationMs = &duration
	}
	return result, nil
}

// lastViewForSession returns the most recent view of a session, or nil.
func (r *Recorder) lastViewForSession(sessionID uint) (*View, error) {
	var view View
	err := r.db.Where("session_id = ?", sessionID).
		Order("viewed_at DESC, id DESC").
		First(&view).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query last view: %w", err)
	}
	return &view, nil
}
