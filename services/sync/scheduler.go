package sync

import (
	"context"
	"fmt"
	"time"

	cronv3 "github.com/robfig/cron/v3"

	"github.com/mailcove/mailcove/config"
	"github.com/mailcove/mailcove/interfaces"
	"github.com/mailcove/mailcove/internal/logger"
	"github.com/mailcove/mailcove/internal/models"
	"github.com/mailcove/mailcove/internal/tracing"
)

// idleConnectionThreshold is how long an IMAP connection may sit unused
// before the sweep closes it.
const idleConnectionThreshold = 15 * time.Minute

// Scheduler drives periodic sync passes. The interval comes from the settings
// store with the environment config as fallback, so the user can change it
// without a restart taking effect at the next Start.
type Scheduler struct {
	engine   *Engine
	settings interfaces.SettingRepository
	cfg      *config.SyncConfig
	log      logger.Logger

	cron  *cronv3.Cron
	jobID cronv3.EntryID
}

func NewScheduler(engine *Engine, settings interfaces.SettingRepository, cfg *config.SyncConfig, log logger.Logger) *Scheduler {
	return &Scheduler{
		engine:   engine,
		settings: settings,
		cfg:      cfg,
		log:      log,
	}
}

// Start registers the periodic sync job and runs one pass immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	interval, err := s.settings.GetInt(ctx, models.SettingSyncIntervalMinutes, s.cfg.IntervalMinutes)
	if err != nil {
		return err
	}
	if interval < 1 {
		interval = s.cfg.IntervalMinutes
	}

	c := cronv3.New(cronv3.WithChain(
		cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
		cronv3.Recover(cronv3.DefaultLogger),
	))

	schedule := fmt.Sprintf("@every %dm", interval)
	s.jobID, err = c.AddFunc(schedule, s.runPass)
	if err != nil {
		return err
	}
	if _, err := c.AddFunc("@every 5m", func() {
		s.engine.CloseIdleClients(idleConnectionThreshold)
	}); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.log.Infof("sync scheduler started with schedule %s", schedule)

	go s.runPass()
	return nil
}

// RefreshNow triggers an immediate pass outside the schedule. Accounts with a
// pass already in flight are skipped by the engine's concurrency guard.
func (s *Scheduler) RefreshNow() {
	go s.runPass()
}

func (s *Scheduler) runPass() {
	defer tracing.RecoverAndLogToJaeger(s.log)

	ctx := context.Background()
	span, ctx := tracing.StartTracerSpan(ctx, "Scheduler.runPass")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	if err := s.engine.SyncAll(ctx); err != nil {
		tracing.TraceErr(span, err)
		s.log.Errorf("sync pass failed: %v", err)
	}
}

// Stop halts the schedule, waits for a running pass and closes every protocol
// client.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.log.Info("stopping sync scheduler")
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	s.engine.Close()
}
