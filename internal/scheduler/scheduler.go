package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"price-tracker/internal/types"
	"price-tracker/utils"
)

// Job is one collection cycle
type Job func(ctx context.Context) error

// Scheduler runs a job immediately and then once per period. It wakes every
// poll interval to check for due work so shutdown is never delayed by a long sleep.
type Scheduler struct {
	job      Job
	period   time.Duration
	poll     time.Duration
	cooldown time.Duration
	logger   logrus.FieldLogger

	now   func() time.Time
	sleep utils.SleepFunc
}

// New creates a scheduler from the configured period, poll interval and cooldown
func New(config *types.Config, job Job, logger logrus.FieldLogger) *Scheduler {
	poll := config.PollInterval
	if poll <= 0 {
		poll = time.Minute
	}
	return &Scheduler{
		job:      job,
		period:   config.SchedulePeriod,
		poll:     poll,
		cooldown: config.ErrorCooldown,
		logger:   logger,
		now:      time.Now,
		sleep:    utils.Sleep,
	}
}

// Run blocks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Infof("Scheduler started, period %v, polling every %v", s.period, s.poll)

	next := s.now()
	for {
		if ctx.Err() != nil {
			s.logger.Info("Scheduler stopping due to context cancelled")
			return
		}

		if !s.now().Before(next) {
			started := s.now()
			next = started.Add(s.period)

			if err := s.runCycle(ctx); err != nil {
				if ctx.Err() != nil {
					s.logger.Warnf("Cycle interrupted: %v", err)
					continue
				}
				var panicked *panicError
				if errors.As(err, &panicked) {
					s.logger.Errorf("Scheduler error: %v; cooling down for %v", err, s.cooldown)
					if err := s.sleep(ctx, s.cooldown); err != nil {
						continue
					}
				} else {
					s.logger.Errorf("Cycle failed: %v", err)
				}
			}
			s.logger.Infof("Next cycle at %s", next.Format(time.RFC3339))
		}

		if err := s.sleep(ctx, s.poll); err != nil {
			continue
		}
	}
}

type panicError struct {
	value interface{}
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

func (s *Scheduler) runCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()

	start := s.now()
	s.logger.Info("Starting scheduled cycle")
	if err := s.job(ctx); err != nil {
		return err
	}
	s.logger.Infof("Scheduled cycle finished in %v", s.now().Sub(start))
	return nil
}
