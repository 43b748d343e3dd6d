package retention

import (
	"encoding/json"
	"fmt"

	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// Restore re-imports an archive file. The checksum is verified before any
// write; the import itself is one transaction, so a failure applies
// nothing.
func (m *Maintainer) Restore(path string) (map[string]int64, error) {
	doc, err := ReadDocument(path)
	if err != nil {
		return nil, err
	}

	var payload Payload
	if err := json.Unmarshal(doc.Data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode archive data: %w", err)
	}
	if payload.Rows() == 0 {
		return map[string]int64{}, nil
	}

	db := m.dbManager.GetConnection()
	err = sqlite.PerformWrite(m.logger, db, func(tx *gorm.DB) error {
		// Visitors before sessions before views: FK order.
		if len(payload.Visitors) > 0 {
			if err := tx.Create(&payload.Visitors).Error; err != nil {
				return fmt.Errorf("failed to restore visitors: %w", err)
			}
		}
		if len(payload.Sessions) > 0 {
			if err := tx.Create(&payload.Sessions).Error; err != nil {
				return fmt.Errorf("failed to restore sessions: %w", err)
			}
		}
		if len(payload.Views) > 0 {
			if err := tx.Create(&payload.Views).Error; err != nil {
				return fmt.Errorf("failed to restore views: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	affected := map[string]int64{
		"visitors": int64(len(payload.Visitors)),
		"sessions": int64(len(payload.Sessions)),
		"views":    int64(len(payload.Views)),
	}
	m.logger.Info("Archive restored",
		slog.String("path", path),
		slog.Int64("visitors", affected["visitors"]),
		slog.Int64("sessions", affected["sessions"]),
		slog.Int64("views", affected["views"]))
	return affected, nil
}
