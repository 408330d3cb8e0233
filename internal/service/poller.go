package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/paynow/approval-server/internal/errors"
	"github.com/paynow/approval-server/internal/model"
)

const (
	DefaultPollInterval = time.Second
	MinPollInterval     = 500 * time.Millisecond
	MaxPollInterval     = 2 * time.Second
	DefaultPollTimeout  = 5 * time.Minute
)

// ErrPollTimeout is the only failure a polling client reports to its user:
// no decision arrived in time, or the session is gone.
var ErrPollTimeout = apperrors.PollTimeout()

// StatusReader is the status read a polling client repeats.
type StatusReader interface {
	Status(ctx context.Context, id string) (*StatusResult, error)
}

type PollOptions struct {
	Interval time.Duration
	Timeout  time.Duration
	// Until reports whether polling may stop. Defaults to UntilDecided.
	Until func(status model.SessionStatus) bool
}

// UntilDecided stops once the approval phase has moved past pending.
func UntilDecided(status model.SessionStatus) bool {
	return status != model.SessionStatusPending
}

// UntilVerified stops once the submitted code has been judged.
func UntilVerified(status model.SessionStatus) bool {
	return status != model.SessionStatusAwaitingVerification
}

func clampPollInterval(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultPollInterval
	case d < MinPollInterval:
		return MinPollInterval
	case d > MaxPollInterval:
		return MaxPollInterval
	}
	return d
}

// PollStatus reads the status of id at a fixed interval until opts.Until
// holds. It never reports a status it has not read; when the timeout
// elapses or the session disappears it returns ErrPollTimeout. Transient
// read failures are retried until the timeout.
func PollStatus(ctx context.Context, reader StatusReader, id string, opts PollOptions) (*StatusResult, error) {
	interval := clampPollInterval(opts.Interval)
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	until := opts.Until
	if until == nil {
		until = UntilDecided
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result, err := reader.Status(ctx, id)
		switch {
		case err == nil:
			if until(result.Status) {
				return result, nil
			}
		case apperrors.GetCode(err) == apperrors.ErrCodeNotFound:
			return nil, ErrPollTimeout
		case ctx.Err() != nil:
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrPollTimeout
			}
			return nil, ctx.Err()
		case retryablePollError(err):
			log.Debug().Err(err).Str("sessionId", id).Msg("status read failed, polling again")
		default:
			return nil, err
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrPollTimeout
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// retryablePollError reports whether a failed status read may succeed on the
// next tick: transport failures and upstream or rate-limit refusals.
func retryablePollError(err error) bool {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		return true
	}
	switch appErr.Code {
	case apperrors.ErrCodeExternal, apperrors.ErrCodeRateLimitExceeded, apperrors.ErrCodeInternal:
		return true
	}
	return false
}
