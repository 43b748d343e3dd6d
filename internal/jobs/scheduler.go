package jobs

import (
	"context"
	"sync"
	"time"

	"log/slog"

	"webstats/internal/analytics"
	"webstats/internal/config"
	"webstats/internal/retention"
)

// Scheduler is responsible for running background jobs
type Scheduler struct {
	dbManager retention.DBAccess
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	enabled   bool
	isRunning bool
	cfg       *config.Config

	// Mutex to prevent concurrent job executions
	processingMutex sync.Mutex
	isProcessing    bool

	// Job instances
	maintainer *retention.Maintainer

	// Tickers for each job type
	retentionTicker   *time.Ticker
	aggregationTicker *time.Ticker
}

func NewScheduler(dbManager retention.DBAccess, logger *slog.Logger, cfg *config.Config) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		dbManager:  dbManager,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		enabled:    cfg.SchedulingEnabled,
		cfg:        cfg,
		maintainer: retention.NewMaintainer(dbManager, logger, cfg),
	}
}

// Maintainer exposes the retention maintainer so the manual purge path can
// run the exact same logic as the scheduled one.
func (s *Scheduler) Maintainer() *retention.Maintainer {
	return s.maintainer
}

// executeJobSafely runs a job only if no other job is currently executing
func (s *Scheduler) executeJobSafely(jobName string, jobFunc func() error) {
	s.processingMutex.Lock()
	if s.isProcessing {
		s.logger.Debug("Skipping job execution - previous job still running", slog.String("job", jobName))
		s.processingMutex.Unlock()
		return
	}
	s.isProcessing = true
	s.processingMutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
		}

		s.processingMutex.Lock()
		s.isProcessing = false
		s.processingMutex.Unlock()
	}()

	if err := jobFunc(); err != nil {
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
	}
}

// Start begins all background jobs
func (s *Scheduler) Start() error {
	if !s.enabled {
		s.logger.Info("Background jobs are disabled.")
		return nil
	}

	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	s.logger.Info("Starting background jobs...")
	s.isRunning = true

	s.startAggregationJob()

	// Forever mode never registers the retention job at all.
	if s.cfg.RetentionMode != config.RetentionForever {
		s.startRetentionJob()
	}

	s.logger.Info("Background jobs started",
		slog.Bool("enabled", s.enabled),
		slog.String("retention_mode", s.cfg.RetentionMode))
	return nil
}

func (s *Scheduler) startRetentionJob() {
	interval := 24 * time.Hour
	s.logger.Info("Starting retention job",
		slog.Duration("interval", interval),
		slog.String("mode", s.cfg.RetentionMode),
		slog.Int("retention_days", s.cfg.RetentionDays))
	s.retentionTicker = time.NewTicker(interval)

	go func() {
		s.executeJobSafely("retention", s.runRetention)

		for {
			select {
			case <-s.retentionTicker.C:
				s.executeJobSafely("retention", s.runRetention)
			case <-s.ctx.Done():
				s.logger.Info("Retention job stopped")
				return
			}
		}
	}()
}

func (s *Scheduler) runRetention() error {
	affected, err := s.maintainer.Run(time.Now())
	if err != nil {
		return err
	}
	if affected != nil {
		s.logger.Info("Retention run completed",
			slog.Int64("views", affected["views"]),
			slog.Int64("sessions", affected["sessions"]),
			slog.Int64("visitors", affected["visitors"]))
	}
	return nil
}

func (s *Scheduler) startAggregationJob() {
	interval := time.Duration(s.cfg.JobIntervalSeconds) * time.Second
	s.logger.Info("Starting aggregation job", slog.Duration("interval", interval))
	s.aggregationTicker = time.NewTicker(interval)

	go func() {
		s.executeJobSafely("aggregation", s.runAggregation)

		for {
			select {
			case <-s.aggregationTicker.C:
				s.executeJobSafely("aggregation", s.runAggregation)
			case <-s.ctx.Done():
				s.logger.Info("Aggregation job stopped")
				return
			}
		}
	}()
}

// runAggregation recomputes today's and yesterday's summary rows;
// yesterday's catches views recorded around the day boundary.
func (s *Scheduler) runAggregation() error {
	db := s.dbManager.GetConnection()
	loc := s.cfg.ReportingLocation()
	now := time.Now()

	if err := analytics.RecomputeDay(db, s.logger, now, loc); err != nil {
		return err
	}
	return analytics.RecomputeDay(db, s.logger, now.AddDate(0, 0, -1), loc)
}

// Stop halts all background jobs.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	s.enabled = false

	if s.retentionTicker != nil {
		s.retentionTicker.Stop()
	}
	if s.aggregationTicker != nil {
		s.aggregationTicker.Stop()
	}

	s.cancel()
	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}
