// Package scheduler provides cron-based job scheduling for OutlineBot.
//
// It runs the daily broadcast and the periodic self-ping. Expressions use the
// standard 5-field form (min, hour, dom, month, dow) or descriptors such as
// "@every 10m".
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Option configures a Scheduler.
type Option func(*config)

type config struct {
	location *time.Location
}

// WithLocation evaluates expressions in loc instead of the process local zone.
func WithLocation(loc *time.Location) Option {
	return func(c *config) {
		if loc != nil {
			c.location = loc
		}
	}
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron     *cron.Cron
	location *time.Location
}

// NewScheduler creates and starts a cron scheduler. Panicking jobs are recovered
// and logged.
func NewScheduler(opts ...Option) *Scheduler {
	cfg := config{location: time.Local}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := slogLogger{}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(cfg.location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)
	c.Start()
	return &Scheduler{cron: c, location: cfg.location}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	if _, err := s.cron.AddFunc(expr, task); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	slog.Debug("Scheduler.AddJob: job scheduled", "expr", expr, "entries", len(s.cron.Entries()))
	return nil
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Next returns the first activation of expr strictly after from, in the
// scheduler's location.
func (s *Scheduler) Next(expr string, from time.Time) (time.Time, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(from.In(s.location)), nil
}

// Location returns the time zone expressions are evaluated in.
func (s *Scheduler) Location() *time.Location {
	return s.location
}

// Stop stops the cron scheduler. Running jobs are not waited for.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// ValidateExpr reports whether expr parses.
func ValidateExpr(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// slogLogger routes cron's internal logging to slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
