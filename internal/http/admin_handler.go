package http

import (
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"golang.org/x/crypto/bcrypt"

	"webstats/internal/config"
	"webstats/internal/retention"
	"webstats/internal/settings"
)

// AdminHandler serves the token-protected maintenance endpoints.
type AdminHandler struct {
	dbManager  cartridge.DBManager
	maintainer *retention.Maintainer
	logger     *slog.Logger
	cfg        *config.Config
}

func NewAdminHandler(dbManager cartridge.DBManager, maintainer *retention.Maintainer, logger *slog.Logger, cfg *config.Config) *AdminHandler {
	return &AdminHandler{
		dbManager:  dbManager,
		maintainer: maintainer,
		logger:     logger,
		cfg:        cfg,
	}
}

// RequireToken compares the bearer token against the stored bcrypt hash.
// An empty stored hash means no token was provisioned yet, which locks
// the admin surface entirely.
func (h *AdminHandler) RequireToken(c *fiber.Ctx) error {
	auth := c.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Missing bearer token"})
	}

	hash, err := settings.GetSetting(h.dbManager.GetConnection(), settings.KeyAdminTokenHash)
	if err != nil || hash == "" {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Admin access not configured"})
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	return c.Next()
}

// Purge runs the configured retention pass immediately.
func (h *AdminHandler) Purge(c *fiber.Ctx) error {
	if h.cfg.RetentionMode == config.RetentionForever {
		return c.Status(http.StatusConflict).JSON(fiber.Map{
			"error": "Retention mode is 'forever'; nothing to purge",
		})
	}

	counts, err := h.maintainer.Run(time.Now())
	if err != nil {
		h.logger.Error("Manual purge failed", slog.Any("error", err))
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Purge failed"})
	}

	return c.JSON(fiber.Map{
		"mode":    h.cfg.RetentionMode,
		"deleted": counts,
	})
}

// ListBackups lists archive files, newest first.
func (h *AdminHandler) ListBackups(c *fiber.Ctx) error {
	files, err := retention.ListArchives(h.cfg.BackupDirectory)
	if err != nil {
		h.logger.Error("Failed to list backups", slog.Any("error", err))
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list backups"})
	}
	return c.JSON(fiber.Map{"backups": files})
}

type restoreParams struct {
	Path string `json:"path"`
}

// Restore loads an archive file back into the fact tables. The file's
// checksum is verified before anything is written. The request names an
// archive file; only files inside the backup directory are readable, so a
// token holder cannot feed arbitrary filesystem paths through the restore.
func (h *AdminHandler) Restore(c *fiber.Ctx) error {
	var params restoreParams
	if err := c.BodyParser(&params); err != nil || params.Path == "" {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "path is required"})
	}

	path := filepath.Join(h.cfg.BackupDirectory, filepath.Base(params.Path))

	counts, err := h.maintainer.Restore(path)
	if err != nil {
		h.logger.Error("Restore failed", slog.String("path", path), slog.Any("error", err))
		return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"restored": counts})
}
