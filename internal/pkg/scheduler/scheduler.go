package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"

	"github.com/ManuelReschke/NewsDesk/internal/pkg/env"
)

const defaultJobTimeout = 10 * time.Minute

// PlanSyncer pulls the gateway plan catalogue into the store.
type PlanSyncer interface {
	SyncPlans(ctx context.Context) (int, error)
}

// EventResyncer replays webhook deliveries whose handler failed.
type EventResyncer interface {
	ResyncFailedEvents(ctx context.Context, limit int) (int, error)
}

// Purger removes expired terminal subscriptions.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// Config holds cron expressions (standard 5-field syntax). An empty
// expression disables the job.
type Config struct {
	Retention   string
	PlanSync    string
	Resync      string
	ResyncBatch int
	JobTimeout  time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Retention:   env.GetEnv("BILLING_CRON_RETENTION", "30 3 * * *"),
		PlanSync:    env.GetEnv("BILLING_CRON_PLAN_SYNC", "0 */6 * * *"),
		Resync:      env.GetEnv("BILLING_CRON_RESYNC", "*/15 * * * *"),
		ResyncBatch: env.GetEnvInt("BILLING_RESYNC_BATCH", 50),
		JobTimeout:  env.GetEnvDuration("BILLING_JOB_TIMEOUT", defaultJobTimeout),
	}
}

// Scheduler runs the billing maintenance jobs.
type Scheduler struct {
	cron    *cron.Cron
	cfg     *Config
	entries map[string]cron.EntryID
}

// cronLogger routes robfig/cron's own messages through fiber's logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debugw("[Scheduler] "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Errorw(fmt.Sprintf("[Scheduler] %s: %v", msg, err), keysAndValues...)
}

// New registers every configured job. Nil dependencies leave their job out.
func New(cfg *Config, plans PlanSyncer, events EventResyncer, purger Purger) (*Scheduler, error) {
	if cfg == nil {
		cfg = LoadConfig()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	logger := cronLogger{}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		cfg:     cfg,
		entries: map[string]cron.EntryID{},
	}

	if purger != nil {
		if err := s.add("retention", cfg.Retention, func(ctx context.Context) error {
			n, err := purger.Purge(ctx)
			if n > 0 {
				log.Infof("[Scheduler] retention removed %d subscriptions", n)
			}
			return err
		}); err != nil {
			return nil, err
		}
	}
	if plans != nil {
		if err := s.add("plan_sync", cfg.PlanSync, func(ctx context.Context) error {
			n, err := plans.SyncPlans(ctx)
			if err == nil {
				log.Infof("[Scheduler] synced %d plans", n)
			}
			return err
		}); err != nil {
			return nil, err
		}
	}
	if events != nil {
		batch := cfg.ResyncBatch
		if batch <= 0 {
			batch = 50
		}
		if err := s.add("webhook_resync", cfg.Resync, func(ctx context.Context) error {
			n, err := events.ResyncFailedEvents(ctx, batch)
			if n > 0 {
				log.Infof("[Scheduler] resynced %d failed webhook events", n)
			}
			return err
		}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) add(name, spec string, job func(ctx context.Context) error) error {
	if spec == "" {
		log.Infof("[Scheduler] job %s disabled", name)
		return nil
	}
	id, err := s.cron.AddFunc(spec, s.wrap(name, job))
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.entries[name] = id
	return nil
}

func (s *Scheduler) wrap(name string, job func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
		defer cancel()
		start := time.Now()
		if err := job(ctx); err != nil {
			log.Errorf("[Scheduler] job %s failed after %s: %v", name, time.Since(start), err)
			return
		}
		log.Debugf("[Scheduler] job %s finished in %s", name, time.Since(start))
	}
}

// Jobs returns the names of the registered jobs.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.entries))
	for _, name := range []string{"retention", "plan_sync", "webhook_resync"} {
		if _, ok := s.entries[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// RunNow executes a registered job synchronously.
func (s *Scheduler) RunNow(name string) error {
	id, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	s.cron.Entry(id).WrappedJob.Run()
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Infof("[Scheduler] started with jobs %v", s.Jobs())
}

// Stop prevents new runs and waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Warn("[Scheduler] shutdown timed out with jobs still running")
	}
}
