package usecase

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"firestore-sync/internal/shared/errors"
	"firestore-sync/internal/shared/logger"
)

// cronLogger routes cron's own logging through our logger
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(pairs(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(pairs(keysAndValues)).Error(msg)
}

func pairs(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}

// Scheduler triggers one consolidation per config on the config's cron
// schedule, evaluated in the config's time zone
type Scheduler struct {
	cron     *cron.Cron
	resolver *ConfigResolver
	engine   *ConsolidationEngine
	ctx      context.Context
	cancel   context.CancelFunc
	logger   logger.Logger
}

func NewScheduler(resolver *ConfigResolver, engine *ConsolidationEngine, log logger.Logger) *Scheduler {
	log = log.WithComponent("scheduler")
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger{log: log}),
			cron.WithChain(cron.Recover(cronLogger{log: log}), cron.SkipIfStillRunning(cronLogger{log: log})),
		),
		resolver: resolver,
		engine:   engine,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log,
	}
}

// ScheduleSpec is the cron expression registered for cfg
func ScheduleSpec(cfg *CompiledConfig) string {
	return "CRON_TZ=" + cfg.TimeZone + " " + cfg.Schedule
}

// Register adds a job per config. Configs whose schedule does not parse are
// skipped and reported.
func (s *Scheduler) Register() []error {
	var skipped []error
	for _, cfg := range s.resolver.Configs() {
		cfg := cfg
		spec := ScheduleSpec(cfg)
		_, err := s.cron.AddFunc(spec, func() {
			if _, err := s.engine.Run(s.ctx, cfg); err != nil && !errors.IsLeaseHeld(err) {
				s.logger.WithError(err).WithFields(map[string]interface{}{"config_id": cfg.ID}).
					Warn("Scheduled consolidation failed, retrying next tick")
			}
		})
		if err != nil {
			verr := errors.NewConfigValidationError(cfg.ID, "invalid schedule "+spec).WithCause(err)
			s.logger.WithError(verr).Error("Skipping consolidation schedule")
			skipped = append(skipped, verr)
			continue
		}
		s.logger.WithFields(map[string]interface{}{"config_id": cfg.ID, "schedule": spec}).Info("Consolidation scheduled")
	}
	return skipped
}

// Entries is the number of registered jobs
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs until ctx expires
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}
