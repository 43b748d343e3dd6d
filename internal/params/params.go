// Package params records first-touch marketing attribution for a session.
package params

import (
	"errors"
	"fmt"
	"net/url"

	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// SessionParam is one (session, parameter-name) attribution row. Rows are
// written once when the session is created and never updated (first-touch,
// not last-touch).
type SessionParam struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID uint   `gorm:"uniqueIndex:idx_session_param;not null"`
	Name      string `gorm:"uniqueIndex:idx_session_param;size:32;not null"`
	Value     string `gorm:"size:255;not null"`
}

// Recorded parameter names, in insertion order.
var trackedParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_content", "utm_term", "utm_id",
}

// Extract pulls the tracked parameters out of a landing URL's query string.
// utm_source, source and ref consolidate into utm_source by that priority.
func Extract(rawURL string) map[string]string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	query := parsed.Query()

	out := make(map[string]string)
	for _, name := range trackedParams {
		if value := query.Get(name); value != "" {
			out[name] = value
		}
	}
	if out["utm_source"] == "" {
		if value := query.Get("source"); value != "" {
			out["utm_source"] = value
		} else if value := query.Get("ref"); value != "" {
			out["utm_source"] = value
		}
	}
	if out["utm_source"] == "" {
		delete(out, "utm_source")
	}
	return out
}

// Recorder attaches attribution rows to new sessions.
type Recorder struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRecorder(db *gorm.DB, logger *slog.Logger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

// Record inserts one row per non-empty tracked parameter in the landing URL.
// It must only run on the new-session path; continuing sessions keep their
// first-touch rows untouched.
func (r *Recorder) Record(sessionID uint, landingURL string) (int, error) {
	if sessionID == 0 {
		return 0, errors.New("params require a resolved session")
	}

	extracted := Extract(landingURL)
	if len(extracted) == 0 {
		return 0, nil
	}

	rows := make([]SessionParam, 0, len(extracted))
	for _, name := range trackedParams {
		if value, ok := extracted[name]; ok {
			rows = append(rows, SessionParam{SessionID: sessionID, Name: name, Value: value})
		}
	}

	err := sqlite.PerformWrite(r.logger, r.db, func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record session params: %w", err)
	}
	return len(rows), nil
}
