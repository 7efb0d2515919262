package engine

import (
	"context"
	"fmt"
	"time"
)

// TickFunc performs one state check. It returns true once the awaited state is reached.
type TickFunc func(ctx context.Context, i int) (bool, error)

// PollInterval is the fixed delay between two ticks. There is no backoff.
const PollInterval = time.Second

// IsMinuteMark reports whether iteration i should print an elapsed-minutes marker.
func IsMinuteMark(i int) bool {
	return i > 1 && i%60 == 0
}

// Poller drives a TickFunc at a fixed cadence up to a bounded number of iterations.
type Poller struct {
	clock    Clock
	notifier Notifier
	reporter Reporter

	// heartbeat runs at every minute mark while a poll is in progress.
	heartbeat func(ctx context.Context) error
}

// NewPoller creates a poller.
func NewPoller(clock Clock, notifier Notifier, reporter Reporter) *Poller {
	return &Poller{clock: clock, notifier: notifier, reporter: reporter}
}

// SetHeartbeat installs fn to run at every minute mark of a poll. A heartbeat
// error aborts the poll. A nil fn removes the heartbeat.
func (p *Poller) SetHeartbeat(fn func(ctx context.Context) error) {
	p.heartbeat = fn
}

// Poll calls tick up to maxIterations times, sleeping one interval between calls.
// If tick reports done at index k, tick has been called exactly k+1 times. When the
// iterations run out, a single failure notification carrying the manifest and a
// failed_at timestamp is emitted and a timeout error is returned.
func (p *Poller) Poll(ctx context.Context, maxIterations int, manifest Manifest, tick TickFunc) error {
	if maxIterations <= 0 {
		maxIterations = DefaultWaitIterations
	}

	for i := 0; i < maxIterations; i++ {
		done, err := tick(ctx, i)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if i+1 == maxIterations {
			break
		}
		if IsMinuteMark(i) {
			p.reporter.Progress(fmt.Sprintf(" %d minute(s) ", i/60))
			if p.heartbeat != nil {
				if err := p.heartbeat(ctx); err != nil {
					return err
				}
			}
		}
		if err := p.clock.Sleep(ctx, PollInterval); err != nil {
			return NewInternalError("polling interrupted", err)
		}
	}

	p.reporter.Errorf(" failed to complete within %d seconds", maxIterations)
	n := Notification{
		Kind:     NotifyRelease,
		Title:    "Command timeout",
		Status:   StatusFailure,
		Manifest: manifest.With("failed_at", p.clock.Now()),
	}
	if err := p.notifier.Notify(ctx, n); err != nil {
		p.reporter.Warnf("failed to send timeout notification: %v", err)
	}

	return NewTimeoutError(fmt.Sprintf("operation did not complete within %d iterations", maxIterations), nil)
}
