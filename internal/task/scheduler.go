package task

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Handle identifies an armed job.
type Handle int

// Scheduler arms and disarms recurring callbacks. Disarm must be synchronous
// and idempotent: after it returns the callback is not started again.
type Scheduler interface {
	Arm(spec string, fire func()) (Handle, error)
	Disarm(h Handle)
}

// parser accepts standard five field specs, an optional leading seconds field
// and descriptors such as @every 1m.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate reports whether spec is a schedule the scheduler can arm.
func Validate(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// CronScheduler is a Scheduler backed by robfig/cron.
type CronScheduler struct {
	c *cron.Cron
}

func NewCronScheduler(log *zap.Logger) *CronScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	l := cronLogger{log.Named("cron").Sugar()}
	return &CronScheduler{
		c: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l)),
		),
	}
}

// Start begins firing armed jobs.
func (s *CronScheduler) Start() { s.c.Start() }

// Stop halts the scheduler and waits for running callbacks to return.
func (s *CronScheduler) Stop() {
	<-s.c.Stop().Done()
}

func (s *CronScheduler) Arm(spec string, fire func()) (Handle, error) {
	id, err := s.c.AddFunc(spec, fire)
	if err != nil {
		return 0, fmt.Errorf("arm %q: %w", spec, err)
	}
	return Handle(id), nil
}

func (s *CronScheduler) Disarm(h Handle) {
	s.c.Remove(cron.EntryID(h))
}

// Armed returns the number of armed jobs.
func (s *CronScheduler) Armed() int {
	return len(s.c.Entries())
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
