package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
)

// HealthHandler reports process and database liveness.
type HealthHandler struct {
	dbManager cartridge.DBManager
}

func NewHealthHandler(dbManager cartridge.DBManager) *HealthHandler {
	return &HealthHandler{dbManager: dbManager}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	db := h.dbManager.GetConnection()
	if db == nil {
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"status": "down"})
	}
	if err := db.Exec("SELECT 1").Error; err != nil {
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"status": "down"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
