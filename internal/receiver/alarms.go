package receiver

import (
	"context"
	"sync"
	"time"

	"beam/internal/constants"
)

// AlarmCreator registers a named wake-up that first fires after delay and
// then every period
type AlarmCreator interface {
	Create(name string, delay, period time.Duration)
}

// Alarms schedules the periodic catch-up wake-up at most once
type Alarms struct {
	creator AlarmCreator

	mu        sync.Mutex
	scheduled bool
}

func NewAlarms(creator AlarmCreator) *Alarms {
	return &Alarms{creator: creator}
}

// ScheduleCatchUp creates the beam-catchup alarm. Later calls are no-ops
// until Reset. A non-positive interval means the default of one minute.
func (a *Alarms) ScheduleCatchUp(interval time.Duration) {
	if interval <= 0 {
		interval = constants.DefaultCatchUpInterval
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scheduled || a.creator == nil {
		return
	}
	a.scheduled = true
	a.creator.Create(constants.CatchUpAlarmName, interval, interval)
}

func (a *Alarms) Reset() {
	a.mu.Lock()
	a.scheduled = false
	a.mu.Unlock()
}

// TickerAlarms fires alarms from goroutines until its context is cancelled
type TickerAlarms struct {
	ctx     context.Context
	onAlarm func(ctx context.Context, name string)
	wg      sync.WaitGroup
}

func NewTickerAlarms(ctx context.Context, onAlarm func(ctx context.Context, name string)) *TickerAlarms {
	return &TickerAlarms{ctx: ctx, onAlarm: onAlarm}
}

func (t *TickerAlarms) Create(name string, delay, period time.Duration) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-t.ctx.Done():
			return
		case <-timer.C:
			t.onAlarm(t.ctx, name)
		}

		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-t.ctx.Done():
				return
			case <-ticker.C:
				t.onAlarm(t.ctx, name)
			}
		}
	}()
}

// Wait blocks until every alarm goroutine has observed cancellation
func (t *TickerAlarms) Wait() {
	t.wg.Wait()
}
