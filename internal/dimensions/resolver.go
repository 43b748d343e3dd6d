package dimensions

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// Resolver implements find-or-create against the lookup tables with a cache
// scoped to one recording pipeline invocation. Lookup rows are never mutated
// once created.
//
// Two concurrent requests racing on the same never-seen natural key may both
// attempt the insert; the unique index rejects the loser, and the resolver
// re-fetches the winner's row instead of failing.
type Resolver struct {
	db     *gorm.DB
	logger *slog.Logger
	cache  map[string]uint
}

// NewResolver creates a resolver with an empty cache. Build one per
// recording pipeline invocation and discard it afterwards.
func NewResolver(db *gorm.DB, logger *slog.Logger) *Resolver {
	return &Resolver{
		db:     db,
		logger: logger,
		cache:  make(map[string]uint),
	}
}

// row is the constraint shared by all dimension models.
type row[T any] interface {
	*T
	RowID() uint
}

// Resolve returns the surrogate id for the natural key described by conds,
// inserting insert when no row exists yet. At most one insert is issued per
// distinct cacheKey per resolver lifetime.
func Resolve[T any, P row[T]](r *Resolver, cacheKey string, conds map[string]any, insert P) (uint, error) {
	if id, ok := r.cache[cacheKey]; ok {
		return id, nil
	}

	id, err := find[T, P](r.db, conds)
	if err == nil {
		r.cache[cacheKey] = id
		return id, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("dimension lookup failed: %w", err)
	}

	writeErr := sqlite.PerformWrite(r.logger, r.db, func(tx *gorm.DB) error {
		return tx.Create(insert).Error
	})
	if writeErr != nil {
		if !isUniqueViolation(writeErr) {
			return 0, fmt.Errorf("dimension insert failed: %w", writeErr)
		}
		// Lost the find-or-create race; another request inserted the row.
		id, err = find[T, P](r.db, conds)
		if err != nil {
			return 0, fmt.Errorf("dimension re-fetch after duplicate failed: %w", err)
		}
		r.cache[cacheKey] = id
		return id, nil
	}

	id = insert.RowID()
	r.cache[cacheKey] = id
	return id, nil
}

func find[T any, P row[T]](db *gorm.DB, conds map[string]any) (uint, error) {
	var found T
	if err := db.Where(conds).First(&found).Error; err != nil {
		return 0, err
	}
	return P(&found).RowID(), nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CacheKey builds a deterministic cache key from a table tag and the natural
// key parts.
func CacheKey(table string, parts ...string) string {
	return table + ":" + strings.Join(parts, "\x1f")
}
