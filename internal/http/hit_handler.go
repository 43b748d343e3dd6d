package http

import (
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"

	"webstats/internal/tracker"
)

const (
	msgHitRecorded    = "Hit recorded"
	errInvalidRequest = "Invalid request"
)

// HitParams is the public collect payload.
type HitParams struct {
	URL          string `json:"url"`
	Referrer     string `json:"referrer"`
	ScreenWidth  int    `json:"screenWidth"`
	ScreenHeight int    `json:"screenHeight"`
	Language     string `json:"language"`
	Timezone     string `json:"timezone"`
	UserID       *uint  `json:"userId"`
}

// HitHandler collects pageviews into the recording pipeline.
type HitHandler struct {
	pipeline *tracker.Pipeline
	logger   *slog.Logger
}

func NewHitHandler(pipeline *tracker.Pipeline, logger *slog.Logger) *HitHandler {
	return &HitHandler{pipeline: pipeline, logger: logger}
}

// Handle records one pageview. Pipeline failures degrade to "not counted";
// the response is 202 whenever the request itself was well-formed.
func (h *HitHandler) Handle(c *fiber.Ctx) error {
	var params HitParams
	if err := c.BodyParser(&params); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
	}
	if params.URL == "" {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "url is required"})
	}

	userAgent := c.Get("User-Agent")
	if forwardedUA := c.Get("X-Forwarded-User-Agent"); forwardedUA != "" {
		userAgent = forwardedUA
	}

	profile := &tracker.Profile{
		IP:          getClientIP(c),
		UserAgent:   userAgent,
		RawURL:      params.URL,
		ReferrerURL: params.Referrer,
		ScreenW:     params.ScreenWidth,
		ScreenH:     params.ScreenHeight,
		Language:    params.Language,
		Timezone:    params.Timezone,
		UserID:      params.UserID,
		Now:         time.Now(),
	}

	// Recorder failures are logged by the pipeline; the pageview just
	// wasn't (fully) counted.
	h.pipeline.Record(profile)

	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"message": msgHitRecorded,
		"status":  http.StatusAccepted,
	})
}

// getClientIP extracts the best candidate client IP, preferring
// reverse-proxy headers over the socket address.
func getClientIP(c *fiber.Ctx) string {
	if forwarded := c.Get("X-Forwarded-For"); forwarded != "" {
		for _, part := range strings.Split(forwarded, ",") {
			if ip := strings.TrimSpace(part); net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	for _, header := range []string{"X-Real-IP", "CF-Connecting-IP", "True-Client-IP"} {
		if value := strings.TrimSpace(c.Get(header)); value != "" {
			if net.ParseIP(value) != nil {
				return value
			}
		}
	}

	return c.IP()
}
