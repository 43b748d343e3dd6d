// Package sessions owns the session fact table and the new-vs-continuing
// decision made for every pageview.
package sessions

import (
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// Session is one browsing session. At most one open session exists per
// visitor per calendar day; subsequent views of the same day reuse it.
type Session struct {
	ID                     uint   `gorm:"primaryKey;autoIncrement"`
	VisitorID              uint   `gorm:"index:idx_visitor_started;not null"`
	IP                     string `gorm:"size:45"`
	ReferrerID             uint
	CountryID              uint
	CityID                 uint
	InitialResourceID      uint
	LastResourceID         uint
	TotalViews             uint `gorm:"not null;default:1"`
	DeviceTypeID           uint
	DeviceOSID             uint
	DeviceBrowserID        uint
	DeviceBrowserVersionID uint
	ResolutionID           uint
	LanguageID             uint
	TimezoneID             uint
	UserID                 *uint
	InitialViewID          *uint
	InitialViewAt          *time.Time
	StartedAt              time.Time `gorm:"index:idx_visitor_started;not null"`
	CreatedAt              time.Time
}

// DayWindow returns the half-open interval [start of day, start of next day)
// containing t, evaluated in loc. Session continuation is scoped to this
// window.
func DayWindow(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// Enrichment carries the dimension FKs snapshotted onto a new session.
type Enrichment struct {
	IP                     string
	ReferrerID             uint
	CountryID              uint
	CityID                 uint
	DeviceTypeID           uint
	DeviceOSID             uint
	DeviceBrowserID        uint
	DeviceBrowserVersionID uint
	ResolutionID           uint
	LanguageID             uint
	TimezoneID             uint
	UserID                 *uint
}

// Result reports which session a pageview landed in and whether it was
// freshly created.
type Result struct {
	SessionID uint
	New       bool
}

// Recorder applies the session state machine.
type Recorder struct {
	db     *gorm.DB
	logger *slog.Logger
	loc    *time.Location
}

func NewRecorder(db *gorm.DB, logger *slog.Logger, loc *time.Location) *Recorder {
	return &Recorder{db: db, logger: logger, loc: loc}
}

// Record continues the visitor's open session for today, or creates one.
// A continuing view increments total_views and moves last_resource_id; a new
// session snapshots the enrichment FKs with total_views = 1.
func (r *Recorder) Record(visitorID, resourceID uint, enrich Enrichment, now time.Time) (Result, error) {
	if visitorID == 0 {
		return Result{}, errors.New("session requires a resolved visitor")
	}

	existing, err := r.openSessionToday(visitorID, now)
	if err != nil {
		return Result{}, err
	}

	if existing != nil {
		err = sqlite.PerformWrite(r.logger, r.db, func(tx *gorm.DB) error {
			return tx.Model(&Session{}).Where("id = ?", existing.ID).Updates(map[string]any{
				"total_views":      gorm.Expr("total_views + 1"),
				"last_resource_id": resourceID,
			}).Error
		})
		if err != nil {
			return Result{}, fmt.Errorf("failed to continue session: %w", err)
		}
		return Result{SessionID: existing.ID, New: false}, nil
	}

	session := &Session{
		VisitorID:              visitorID,
		IP:                     enrich.IP,
		ReferrerID:             enrich.ReferrerID,
		CountryID:              enrich.CountryID,
		CityID:                 enrich.CityID,
		InitialResourceID:      resourceID,
		LastResourceID:         0,
		TotalViews:             1,
		DeviceTypeID:           enrich.DeviceTypeID,
		DeviceOSID:             enrich.DeviceOSID,
		DeviceBrowserID:        enrich.DeviceBrowserID,
		DeviceBrowserVersionID: enrich.DeviceBrowserVersionID,
		ResolutionID:           enrich.ResolutionID,
		LanguageID:             enrich.LanguageID,
		TimezoneID:             enrich.TimezoneID,
		UserID:                 enrich.UserID,
		StartedAt:              now.UTC(),
		CreatedAt:              now.UTC(),
	}
	err = sqlite.PerformWrite(r.logger, r.db, func(tx *gorm.DB) error {
		return tx.Create(session).Error
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to create session: %w", err)
	}
	return Result{SessionID: session.ID, New: true}, nil
}

// openSessionToday finds the visitor's session within today's day window,
// or nil when none exists.
func (r *Recorder) openSessionToday(visitorID uint, now time.Time) (*Session, error) {
	start, end := DayWindow(now, r.loc)

	var session Session
	err := r.db.Where("visitor_id = ? AND started_at >= ? AND started_at < ?",
		visitorID, start.UTC(), end.UTC()).
		Order("started_at DESC").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query open session: %w", err)
	}
	return &session, nil
}

// RefreshInitialView records the session's very first view, independent of
// the running last_resource_id. Later views leave it untouched.
func (r *Recorder) RefreshInitialView(sessionID, viewID uint, at time.Time) error {
	return sqlite.PerformWrite(r.logger, r.db, func(tx *gorm.DB) error {
		return tx.Model(&Session{}).
			Where("id = ? AND initial_view_id IS NULL", sessionID).
			Updates(map[string]any{
				"initial_view_id": viewID,
				"initial_view_at": at.UTC(),
			}).Error
	})
}
