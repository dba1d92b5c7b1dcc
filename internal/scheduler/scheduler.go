package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/replicad/replicad/internal/mirror"
)

// State describes the lifecycle of the scheduler loop
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Runner executes one sync pass. Implemented by mirror.Engine.
type Runner interface {
	RunPass(ctx context.Context) (*mirror.PassResult, error)
}

// Loop triggers sync passes at a fixed interval on a single background
// goroutine. Passes never overlap: the wait runs from the end of one pass
// to the start of the next. Stop is cooperative and pass-granular — an
// in-flight pass always completes before the loop shuts down, while the
// inter-pass wait is cut short immediately.
type Loop struct {
	runner   Runner
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	state  State
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewLoop creates a scheduler loop in the Idle state
func NewLoop(runner Runner, interval time.Duration, logger *slog.Logger) *Loop {
	return &Loop{
		runner:   runner,
		interval: interval,
		logger:   logger,
		state:    StateIdle,
	}
}

// State returns the current lifecycle state
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start transitions Idle→Running and spawns the worker goroutine. The
// first pass runs immediately; subsequent passes run interval after the
// previous pass finished. Cancelling ctx has the same effect as Stop,
// except that Stop additionally waits for the worker to exit.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateIdle {
		l.mu.Unlock()
		return fmt.Errorf("scheduler already started (state %s)", l.state)
	}
	l.state = StateRunning
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	l.mu.Unlock()

	go l.run(ctx)
	return nil
}

// Stop requests a cooperative shutdown and blocks until the worker has
// exited: Running→Stopping, the in-flight pass (if any) completes, then
// Stopping→Stopped. Stopping an Idle or already-stopped loop is a no-op.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.state != StateRunning {
		l.mu.Unlock()
		return
	}
	l.state = StateStopping
	close(l.stopCh)
	done := l.doneCh
	l.mu.Unlock()

	<-done

	l.mu.Lock()
	l.state = StateStopped
	l.mu.Unlock()
}

// run is the worker loop. It observes the stop signal at exactly two
// points: before starting a pass and during the inter-pass wait.
func (l *Loop) run(ctx context.Context) {
	defer close(l.doneCh)

	l.logger.Info("scheduler started", "interval", l.interval)

	for {
		select {
		case <-l.stopCh:
			l.logger.Info("scheduler stopping")
			return
		case <-ctx.Done():
			l.logger.Info("scheduler stopping", "reason", ctx.Err())
			return
		default:
		}

		// A pass, once started, always runs to completion. Pass-level
		// failures (an unreadable tree) are logged and the loop carries
		// on with the next scheduled pass.
		if _, err := l.runner.RunPass(ctx); err != nil {
			l.logger.Error("sync pass failed", "error", err)
		}

		timer := time.NewTimer(l.interval)
		select {
		case <-l.stopCh:
			timer.Stop()
			l.logger.Info("scheduler stopping")
			return
		case <-ctx.Done():
			timer.Stop()
			l.logger.Info("scheduler stopping", "reason", ctx.Err())
			return
		case <-timer.C:
		}
	}
}
