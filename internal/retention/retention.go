// Package retention implements the data-retention state machine: keep
// forever, delete past a cutoff, or archive-then-delete with checksummed
// backup files. The scheduled job and the manual purge share the exact same
// entry points, so the two paths cannot diverge.
package retention

import (
	"fmt"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"webstats/internal/config"
	"webstats/internal/sessions"
	"webstats/internal/views"
	"webstats/internal/visitors"
)

// DBAccess is the database surface retention needs. *database.DBManager
// satisfies it.
type DBAccess interface {
	GetConnection() *gorm.DB
	CheckpointWAL(checkpointType string) error
}

// Maintainer applies the configured retention policy.
type Maintainer struct {
	dbManager DBAccess
	logger    *slog.Logger
	cfg       *config.Config
}

func NewMaintainer(dbManager DBAccess, logger *slog.Logger, cfg *config.Config) *Maintainer {
	return &Maintainer{dbManager: dbManager, logger: logger, cfg: cfg}
}

// Cutoff returns the retention boundary: the start of today in the
// reporting timezone minus the configured retention days. Both the
// scheduled and manual paths use this same formula.
func (m *Maintainer) Cutoff(now time.Time) time.Time {
	start, _ := sessions.DayWindow(now, m.cfg.ReportingLocation())
	return start.AddDate(0, 0, -m.cfg.RetentionDays)
}

// Run applies the configured mode once. Forever mode is a no-op.
func (m *Maintainer) Run(now time.Time) (map[string]int64, error) {
	switch m.cfg.RetentionMode {
	case config.RetentionDelete:
		return m.DeleteOldData(m.Cutoff(now))
	case config.RetentionArchive:
		return m.ArchiveOldData(m.Cutoff(now))
	default:
		return nil, nil
	}
}

// DeleteOldData hard-deletes facts older than the cutoff, sweeps orphans
// and optimizes storage. It returns rows affected per table.
func (m *Maintainer) DeleteOldData(cutoff time.Time) (map[string]int64, error) {
	db := m.dbManager.GetConnection()
	affected := make(map[string]int64)

	m.logger.Info("Starting retention delete", slog.Time("cutoff", cutoff))

	deletions := []struct {
		table string
		run   func(tx *gorm.DB) *gorm.DB
	}{
		{"views", func(tx *gorm.DB) *gorm.DB {
			return tx.Where("viewed_at < ?", cutoff.UTC()).Delete(&views.View{})
		}},
		{"sessions", func(tx *gorm.DB) *gorm.DB {
			return tx.Where("started_at < ?", cutoff.UTC()).Delete(&sessions.Session{})
		}},
		{"visitors", func(tx *gorm.DB) *gorm.DB {
			return tx.Where("created_at < ?", cutoff.UTC()).Delete(&visitors.Visitor{})
		}},
	}

	for _, d := range deletions {
		var rows int64
		err := sqlite.PerformWrite(m.logger, db, func(tx *gorm.DB) error {
			result := d.run(tx)
			rows = result.RowsAffected
			return result.Error
		})
		if err != nil {
			return affected, fmt.Errorf("failed to delete old %s: %w", d.table, err)
		}
		affected[d.table] = rows
	}

	orphans, err := m.deleteOrphans(db)
	if err != nil {
		return affected, err
	}
	for table, rows := range orphans {
		affected[table] += rows
	}

	m.optimize(db)

	m.logger.Info("Retention delete completed",
		slog.Int64("views", affected["views"]),
		slog.Int64("sessions", affected["sessions"]),
		slog.Int64("visitors", affected["visitors"]))
	return affected, nil
}

// ArchiveOldData exports qualifying rows to a checksummed archive file and
// only then deletes them (fail closed: no successful backup, no deletion).
// Zero qualifying rows produce no file and no deletions. Daily summary
// aggregates are never archived or deleted.
func (m *Maintainer) ArchiveOldData(cutoff time.Time) (map[string]int64, error) {
	db := m.dbManager.GetConnection()

	payload, err := m.collectOldData(db, cutoff)
	if err != nil {
		return nil, err
	}
	if payload.Rows() == 0 {
		m.logger.Info("No rows older than cutoff, skipping archive", slog.Time("cutoff", cutoff))
		return map[string]int64{}, nil
	}

	path, err := writeArchive(m.cfg.BackupDirectory, payload, Meta{
		Version:    archiveVersion,
		CreatedAt:  time.Now().UTC(),
		CutoffDate: cutoff.UTC().Format("2006-01-02"),
		Type:       config.RetentionArchive,
		SiteURL:    m.cfg.SiteURL,
	})
	if err != nil {
		// Never delete without a verified backup.
		return nil, fmt.Errorf("archive aborted before deletion: %w", err)
	}

	m.logger.Info("Archive written",
		slog.String("path", path),
		slog.Int("rows", payload.Rows()))

	affected, err := m.deleteArchivedRows(db, payload)
	if err != nil {
		return affected, err
	}

	orphans, err := m.deleteOrphans(db)
	if err != nil {
		return affected, err
	}
	for table, rows := range orphans {
		affected[table] += rows
	}

	m.optimize(db)

	if err := pruneArchives(m.cfg.BackupDirectory, m.cfg.BackupsToKeep); err != nil {
		m.logger.Warn("Failed to prune old archives", slog.Any("error", err))
	}

	return affected, nil
}

// collectOldData gathers every row older than the cutoff.
func (m *Maintainer) collectOldData(db *gorm.DB, cutoff time.Time) (*Payload, error) {
	payload := &Payload{}

	if err := db.Where("viewed_at < ?", cutoff.UTC()).
		Order("id ASC").Find(&payload.Views).Error; err != nil {
		return nil, fmt.Errorf("failed to collect old views: %w", err)
	}
	if err := db.Where("started_at < ?", cutoff.UTC()).
		Order("id ASC").Find(&payload.Sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to collect old sessions: %w", err)
	}
	if err := db.Where("created_at < ?", cutoff.UTC()).
		Order("id ASC").Find(&payload.Visitors).Error; err != nil {
		return nil, fmt.Errorf("failed to collect old visitors: %w", err)
	}

	return payload, nil
}

// deleteArchivedRows deletes exactly the rows captured in the payload, by
// primary key, so the archive and the deletion can never disagree.
func (m *Maintainer) deleteArchivedRows(db *gorm.DB, payload *Payload) (map[string]int64, error) {
	affected := make(map[string]int64)

	ids := func(n int, id func(int) uint) []uint {
		out := make([]uint, n)
		for i := range out {
			out[i] = id(i)
		}
		return out
	}

	viewIDs := ids(len(payload.Views), func(i int) uint { return payload.Views[i].ID })
	sessionIDs := ids(len(payload.Sessions), func(i int) uint { return payload.Sessions[i].ID })
	visitorIDs := ids(len(payload.Visitors), func(i int) uint { return payload.Visitors[i].ID })

	err := sqlite.PerformWrite(m.logger, db, func(tx *gorm.DB) error {
		if len(viewIDs) > 0 {
			result := tx.Where("id IN ?", viewIDs).Delete(&views.View{})
			if result.Error != nil {
				return result.Error
			}
			affected["views"] = result.RowsAffected
		}
		if len(sessionIDs) > 0 {
			result := tx.Where("id IN ?", sessionIDs).Delete(&sessions.Session{})
			if result.Error != nil {
				return result.Error
			}
			affected["sessions"] = result.RowsAffected
		}
		if len(visitorIDs) > 0 {
			result := tx.Where("id IN ?", visitorIDs).Delete(&visitors.Visitor{})
			if result.Error != nil {
				return result.Error
			}
			affected["visitors"] = result.RowsAffected
		}
		return nil
	})
	if err != nil {
		return affected, fmt.Errorf("failed to delete archived rows: %w", err)
	}
	return affected, nil
}

// deleteOrphans removes sessions whose visitor is gone and views whose
// session is gone.
func (m *Maintainer) deleteOrphans(db *gorm.DB) (map[string]int64, error) {
	affected := make(map[string]int64)

	err := sqlite.PerformWrite(m.logger, db, func(tx *gorm.DB) error {
		result := tx.Exec(`DELETE FROM sessions WHERE visitor_id NOT IN (SELECT id FROM visitors)`)
		if result.Error != nil {
			return result.Error
		}
		affected["sessions"] = result.RowsAffected

		result = tx.Exec(`DELETE FROM views WHERE session_id NOT IN (SELECT id FROM sessions)`)
		if result.Error != nil {
			return result.Error
		}
		affected["views"] = result.RowsAffected
		return nil
	})
	if err != nil {
		return affected, fmt.Errorf("failed to delete orphans: %w", err)
	}
	return affected, nil
}

func (m *Maintainer) optimize(db *gorm.DB) {
	if err := db.Exec("PRAGMA optimize").Error; err != nil {
		m.logger.Warn("Failed to optimize database", slog.Any("error", err))
	}
	if err := m.dbManager.CheckpointWAL("TRUNCATE"); err != nil {
		m.logger.Warn("Failed to checkpoint WAL after retention", slog.Any("error", err))
	}
}
