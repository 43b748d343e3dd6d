// Package visitors records the daily visitor identity anchor.
package visitors

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"log/slog"

	"webstats/internal/dimensions"
)

// Visitor is one distinct visitor signature for one calendar day. Rows are
// immutable; only the retention policy removes them.
type Visitor struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Hash      string    `gorm:"uniqueIndex;size:64;not null"`
	CreatedAt time.Time `gorm:"index;not null"`
}

func (v *Visitor) RowID() uint { return v.ID }

// Signature creates a privacy-first unique visitor identifier. The salt
// rotates daily, so the same IP and user agent hash to a different value
// every day and cross-day linkage is not reconstructable.
func Signature(ip, userAgent, salt string, now time.Time) string {
	today := now.UTC().Format("2006-01-02")
	dailySalt := fmt.Sprintf("%s-%s", today, salt)
	data := fmt.Sprintf("%s.%s.%s", dailySalt, ip, userAgent)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// Recorder resolves today's visitor row for a signature.
type Recorder struct {
	logger  *slog.Logger
	enabled bool
}

func NewRecorder(logger *slog.Logger, enabled bool) *Recorder {
	return &Recorder{logger: logger, enabled: enabled}
}

// Enabled reports whether visitor tracking is on.
func (r *Recorder) Enabled() bool { return r.enabled }

// Record returns the visitor id for the signature, creating the row on the
// first pageview of the day. Repeated calls with the same signature return
// the same id.
func (r *Recorder) Record(res *dimensions.Resolver, signature string, now time.Time) (uint, error) {
	if !r.enabled {
		return 0, nil
	}

	id, err := dimensions.Resolve[Visitor](res,
		dimensions.CacheKey("visitors", signature),
		map[string]any{"hash": signature},
		&Visitor{Hash: signature, CreatedAt: now.UTC()},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record visitor: %w", err)
	}
	return id, nil
}
