package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paynow/approval-server/internal/model"
)

const (
	DefaultNotifyQueueSize = 256
	DefaultNotifyTimeout   = 10 * time.Second
)

var (
	ErrNotifyQueueFull = errors.New("notification queue full")
	ErrNotifierStopped = errors.New("notifier stopped")
)

// Notifier delivers operator events to an out-of-band channel.
type Notifier interface {
	Notify(ctx context.Context, event model.OperatorEvent) error
}

// Notifiers fans an event out to every channel and joins their errors.
type Notifiers []Notifier

func (n Notifiers) Notify(ctx context.Context, event model.OperatorEvent) error {
	var errs []error
	for _, notifier := range n {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event model.OperatorEvent) error

func (f NotifierFunc) Notify(ctx context.Context, event model.OperatorEvent) error {
	return f(ctx, event)
}

// AsyncNotifier queues events and delivers them to next from a single
// worker, in order, each under its own deadline. Notify never blocks; when
// the queue is full the event is dropped and ErrNotifyQueueFull returned.
type AsyncNotifier struct {
	next    Notifier
	timeout time.Duration
	queue   chan model.OperatorEvent
	done    chan struct{}

	mu      sync.RWMutex
	stopped bool
}

func NewAsyncNotifier(next Notifier, queueSize int, timeout time.Duration) *AsyncNotifier {
	if queueSize <= 0 {
		queueSize = DefaultNotifyQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultNotifyTimeout
	}
	n := &AsyncNotifier{
		next:    next,
		timeout: timeout,
		queue:   make(chan model.OperatorEvent, queueSize),
		done:    make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *AsyncNotifier) Notify(_ context.Context, event model.OperatorEvent) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.stopped {
		return ErrNotifierStopped
	}
	select {
	case n.queue <- event:
		return nil
	default:
		return ErrNotifyQueueFull
	}
}

func (n *AsyncNotifier) run() {
	defer close(n.done)

	for event := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		if err := n.next.Notify(ctx, event); err != nil {
			log.Warn().
				Err(err).
				Str("sessionId", event.SessionID).
				Str("event", string(event.Type)).
				Msg("failed to deliver operator notification")
		}
		cancel()
	}
}

// Stop refuses new events and waits for queued ones to drain, at most one
// delivery timeout. Safe to call more than once.
func (n *AsyncNotifier) Stop() {
	n.mu.Lock()
	if !n.stopped {
		n.stopped = true
		close(n.queue)
	}
	n.mu.Unlock()

	select {
	case <-n.done:
	case <-time.After(n.timeout):
		log.Warn().Int("pending", len(n.queue)).Msg("notification queue not drained before shutdown")
	}
}

// Pending reports queued, undelivered events.
func (n *AsyncNotifier) Pending() int {
	return len(n.queue)
}
