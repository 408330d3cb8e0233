package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultAutoApproveDelay = 3 * time.Second
	DefaultAutoVerifyDelay  = 2 * time.Second

	autoDecisionTimeout = 10 * time.Second
)

// AutoDecider stands in for a human operator in simulation mode. Each
// scheduled decision runs once after its delay unless cancelled; scheduling
// again for the same session replaces the previous timer.
type AutoDecider struct {
	approveDelay time.Duration
	verifyDelay  time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewAutoDecider(approveDelay, verifyDelay time.Duration) *AutoDecider {
	if approveDelay <= 0 {
		approveDelay = DefaultAutoApproveDelay
	}
	if verifyDelay <= 0 {
		verifyDelay = DefaultAutoVerifyDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AutoDecider{
		approveDelay: approveDelay,
		verifyDelay:  verifyDelay,
		timers:       make(map[string]*time.Timer),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (d *AutoDecider) ScheduleApproval(sessionID string, fn func(ctx context.Context)) {
	d.schedule(sessionID, d.approveDelay, fn)
}

func (d *AutoDecider) ScheduleVerification(sessionID string, fn func(ctx context.Context)) {
	d.schedule(sessionID, d.verifyDelay, fn)
}

func (d *AutoDecider) schedule(sessionID string, delay time.Duration, fn func(ctx context.Context)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if t, ok := d.timers[sessionID]; ok && t.Stop() {
		d.wg.Done()
	}

	d.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		defer d.wg.Done()

		d.mu.Lock()
		if d.timers[sessionID] == timer {
			delete(d.timers, sessionID)
		}
		d.mu.Unlock()

		ctx, cancel := context.WithTimeout(d.ctx, autoDecisionTimeout)
		defer cancel()
		if ctx.Err() != nil {
			return
		}
		fn(ctx)
	})
	d.timers[sessionID] = timer

	log.Debug().
		Str("sessionId", sessionID).
		Dur("delay", delay).
		Msg("automatic decision scheduled")
}

// Cancel drops any decision still waiting for sessionID.
func (d *AutoDecider) Cancel(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.timers[sessionID]; ok {
		if t.Stop() {
			d.wg.Done()
		}
		delete(d.timers, sessionID)
	}
}

func (d *AutoDecider) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop cancels every waiting decision and waits for running ones to finish.
func (d *AutoDecider) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for id, t := range d.timers {
		if t.Stop() {
			d.wg.Done()
		}
		delete(d.timers, id)
	}
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}
