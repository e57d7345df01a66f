package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// calendarTrigger is a one-shot timer bound to an exact calendar instant,
// built on a single-entry cron runner pinned to a timezone. The cron spec is
// derived from the fire instant's local wall-clock fields, so the trigger
// fires at the correct local time regardless of the host timezone.
type calendarTrigger struct {
	runner *cron.Cron
	once   sync.Once
}

// newCalendarTrigger arms fn to run once at the given instant, evaluated in loc.
func newCalendarTrigger(at time.Time, loc *time.Location, fn func()) (*calendarTrigger, error) {
	t := &calendarTrigger{
		runner: cron.New(cron.WithLocation(loc)),
	}

	// The day-of-month pattern recurs yearly; the guard retires the runner
	// after the first match so the trigger stays one-shot.
	_, err := t.runner.AddFunc(cronSpecAt(at, loc), func() {
		t.once.Do(func() {
			defer t.runner.Stop()
			fn()
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to arm calendar trigger: %w", err)
	}

	t.runner.Start()
	return t, nil
}

// Stop disarms the trigger. A firing already dispatched runs to completion and
// re-validates state against the store before acting.
func (t *calendarTrigger) Stop() {
	t.runner.Stop()
}

// cronSpecAt renders the wall-clock fields of the instant in loc as a
// minute/hour/day-of-month/month cron expression.
func cronSpecAt(at time.Time, loc *time.Location) string {
	local := at.In(loc)
	return fmt.Sprintf("%d %d %d %d *", local.Minute(), local.Hour(), local.Day(), int(local.Month()))
}
