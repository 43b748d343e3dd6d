// Package tracker runs the synchronous recording pipeline for one pageview:
// visitor, enrichment dimensions, session continuation, first-touch params
// and the view chain, in that dependency order.
package tracker

import (
	"net/url"
	"strings"

	"log/slog"

	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"webstats/internal/config"
	"webstats/internal/dimensions"
	"webstats/internal/params"
	"webstats/internal/pkg/geoip"
	"webstats/internal/pkg/user_agent"
	"webstats/internal/sessions"
	"webstats/internal/settings"
	"webstats/internal/views"
	"webstats/internal/visitors"
)

// GeoLocator is the geolocation dependency; *geoip.Locator satisfies it.
type GeoLocator interface {
	Available() bool
	Lookup(ip string) geoip.Location
}

// Pipeline wires the recorders together. Construct once; Record is safe for
// concurrent use because all per-request state lives on the Profile and the
// per-invocation resolver cache.
type Pipeline struct {
	db       *gorm.DB
	logger   *slog.Logger
	cfg      *config.Config
	geo      GeoLocator
	siteHost string

	visitors *visitors.Recorder
	sessions *sessions.Recorder
	views    *views.Recorder
	params   *params.Recorder
}

func NewPipeline(dbManager cartridge.DBManager, logger *slog.Logger, cfg *config.Config, geo GeoLocator) *Pipeline {
	db := dbManager.GetConnection()

	siteHost := ""
	if parsed, err := url.Parse(cfg.SiteURL); err == nil {
		siteHost = strings.ToLower(parsed.Hostname())
	}

	return &Pipeline{
		db:       db,
		logger:   logger,
		cfg:      cfg,
		geo:      geo,
		siteHost: siteHost,
		visitors: visitors.NewRecorder(logger, cfg.TrackVisitors),
		sessions: sessions.NewRecorder(db, logger, cfg.ReportingLocation()),
		views:    views.NewRecorder(db, logger),
		params:   params.NewRecorder(db, logger),
	}
}

// Record runs the pipeline for one pageview. It always returns the outcome
// list; a recorder failure degrades the rest of the pipeline instead of
// aborting the request. Writes already committed by earlier recorders stay.
func (pl *Pipeline) Record(p *Profile) []Outcome {
	outcomes := make([]Outcome, 0, 8)

	p.Parsed = user_agent.ParseUserAgent(p.UserAgent)
	if p.Parsed.Bot {
		pl.logger.Debug("Skipping bot pageview",
			slog.String("user_agent", p.UserAgent),
			slog.String("bot", p.Parsed.Browser))
		return append(outcomes, skipped(StepVisitor, SkipBot))
	}

	if excluded, err := settings.IsIPExcluded(p.IP); err != nil {
		pl.logger.Error("Error checking IP exclusion", slog.Any("error", err))
	} else if excluded {
		pl.logger.Debug("Skipping pageview for excluded IP", slog.String("ip", p.IP))
		return append(outcomes, skipped(StepVisitor, SkipExcludedIP))
	}

	// Dimension cache lives exactly as long as this invocation.
	resolver := dimensions.NewResolver(pl.db, pl.logger)

	outcomes = append(outcomes, pl.recordVisitor(resolver, p))
	outcomes = append(outcomes, pl.resolveResource(resolver, p))

	// Enrichment recorders are independent of each other; each one writes
	// its surrogate key onto the profile for the session snapshot.
	outcomes = append(outcomes, pl.resolveDevice(resolver, p))
	outcomes = append(outcomes, pl.resolveGeo(resolver, p))
	outcomes = append(outcomes, pl.resolveLocale(resolver, p))
	outcomes = append(outcomes, pl.resolveReferrer(resolver, p))
	outcomes = append(outcomes, pl.resolveResolution(resolver, p))

	outcomes = append(outcomes, pl.recordSession(p))
	outcomes = append(outcomes, pl.recordParams(p))
	outcomes = append(outcomes, pl.recordView(p))

	for _, o := range outcomes {
		if o.Err != nil {
			pl.logger.Error("Recorder failed",
				slog.String("step", string(o.Step)),
				slog.Any("error", o.Err))
		}
	}
	return outcomes
}

func (pl *Pipeline) recordVisitor(resolver *dimensions.Resolver, p *Profile) Outcome {
	if !pl.visitors.Enabled() {
		return skipped(StepVisitor, SkipDisabled)
	}

	salt, err := settings.DailySalt(pl.db, p.Now)
	if err != nil {
		return failed(StepVisitor, err)
	}
	p.Signature = visitors.Signature(p.IP, p.UserAgent, salt, p.Now)

	id, err := pl.visitors.Record(resolver, p.Signature, p.Now)
	if err != nil {
		return failed(StepVisitor, err)
	}
	p.VisitorID = id
	return recorded(StepVisitor, id)
}

func (pl *Pipeline) recordSession(p *Profile) Outcome {
	if p.VisitorID == 0 || p.ResourceID == 0 {
		return skipped(StepSession, SkipMissingPrereq)
	}

	result, err := pl.sessions.Record(p.VisitorID, p.ResourceID, sessions.Enrichment{
		IP:                     p.IP,
		ReferrerID:             p.ReferrerID,
		CountryID:              p.CountryID,
		CityID:                 p.CityID,
		DeviceTypeID:           p.DeviceTypeID,
		DeviceOSID:             p.DeviceOSID,
		DeviceBrowserID:        p.DeviceBrowserID,
		DeviceBrowserVersionID: p.DeviceBrowserVersionID,
		ResolutionID:           p.ResolutionID,
		LanguageID:             p.LanguageID,
		TimezoneID:             p.TimezoneID,
		UserID:                 p.UserID,
	}, p.Now)
	if err != nil {
		return failed(StepSession, err)
	}

	p.SessionID = result.SessionID
	p.SessionIsNew = result.New
	return recorded(StepSession, result.SessionID)
}

// recordParams runs on the new-session path only: attribution is
// first-touch and never overwritten on continuation.
func (pl *Pipeline) recordParams(p *Profile) Outcome {
	if p.SessionID == 0 {
		return skipped(StepParams, SkipMissingPrereq)
	}
	if !p.SessionIsNew {
		return skipped(StepParams, SkipContinuation)
	}

	count, err := pl.params.Record(p.SessionID, p.RawURL)
	if err != nil {
		return failed(StepParams, err)
	}
	if count == 0 {
		return skipped(StepParams, SkipEmptyValue)
	}
	return recorded(StepParams, p.SessionID)
}

func (pl *Pipeline) recordView(p *Profile) Outcome {
	if p.SessionID == 0 || p.ResourceID == 0 {
		return skipped(StepView, SkipMissingPrereq)
	}

	result, err := pl.views.Record(p.SessionID, p.ResourceID, p.Now)
	if err != nil {
		return failed(StepView, err)
	}
	p.ViewID = result.ViewID

	// First-view bookkeeping; a no-op once initial_view_id is set.
	if err := pl.sessions.RefreshInitialView(p.SessionID, result.ViewID, p.Now); err != nil {
		pl.logger.Warn("Failed to refresh initial view",
			slog.Uint64("session_id", uint64(p.SessionID)),
			slog.Any("error", err))
	}
	return recorded(StepView, result.ViewID)
}
