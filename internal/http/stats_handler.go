package http

import (
	"net/http"
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"webstats/internal/analytics"
	"webstats/internal/config"
)

// StatsHandler serves pre-aggregated daily totals.
type StatsHandler struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	cfg       *config.Config
}

func NewStatsHandler(dbManager cartridge.DBManager, logger *slog.Logger, cfg *config.Config) *StatsHandler {
	return &StatsHandler{dbManager: dbManager, logger: logger, cfg: cfg}
}

// Summary returns daily visitor/session/view counts for a date range.
// Defaults to the last 30 days when no range is given.
func (h *StatsHandler) Summary(c *fiber.Ctx) error {
	loc := h.cfg.ReportingLocation()
	now := time.Now().In(loc)

	to := now
	from := now.AddDate(0, 0, -30)

	if raw := c.Query("from"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, loc)
		if err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid 'from' date, expected YYYY-MM-DD"})
		}
		from = parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, loc)
		if err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid 'to' date, expected YYYY-MM-DD"})
		}
		to = parsed
	}
	if to.Before(from) {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "'to' must not be before 'from'"})
	}

	stats, err := analytics.Summary(h.dbManager.GetConnection(), from, to)
	if err != nil {
		h.logger.Error("Failed to load daily summary", slog.Any("error", err))
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load summary"})
	}

	return c.JSON(fiber.Map{
		"from": from.Format("2006-01-02"),
		"to":   to.Format("2006-01-02"),
		"days": stats,
	})
}
