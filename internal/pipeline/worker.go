package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// worker is the lifecycle shared by both stages: one goroutine, a wake-up
// signal, an exit request observed within one poll interval, and a state
// machine reported through Callbacks.OnStateChange.
type worker struct {
	name         string
	logger       *slog.Logger
	callbacks    *Callbacks
	pollInterval time.Duration

	stateMu sync.RWMutex
	state   State

	signal  chan struct{}
	exit    chan struct{}
	running chan struct{}
	done    chan struct{}

	exitOnce  sync.Once
	startOnce sync.Once
	started   bool
}

func newWorker(name string, logger *slog.Logger, cb *Callbacks, poll time.Duration) *worker {
	return &worker{
		name:         name,
		logger:       logger.With("stage", name),
		callbacks:    cb,
		pollInterval: poll,
		signal:       make(chan struct{}, 1),
		exit:         make(chan struct{}),
		running:      make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// State returns the current state.
func (w *worker) State() State {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.state
}

func (w *worker) setState(s State) {
	w.stateMu.Lock()
	old := w.state
	w.state = s
	w.stateMu.Unlock()

	if old != s {
		w.logger.Debug("stage_state_change", "from", old.String(), "to", s.String())
		if w.callbacks.OnStateChange != nil {
			w.callbacks.OnStateChange(w.name, old, s)
		}
	}
}

// launch runs loop on a new goroutine. The worker reports running before
// loop is entered and stopped after it returns.
func (w *worker) launch(loop func()) {
	w.startOnce.Do(func() {
		w.stateMu.Lock()
		w.started = true
		w.stateMu.Unlock()

		go func() {
			defer close(w.done)
			w.setState(StateIdle)
			close(w.running)
			w.logger.Info("stage_started")

			loop()

			w.setState(StateStopped)
			w.logger.Info("stage_stopped")
		}()
	})
}

// waitUntilRunning blocks until the worker has entered its loop.
func (w *worker) waitUntilRunning(ctx context.Context) error {
	select {
	case <-w.running:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// notify wakes the worker without blocking. Signals coalesce.
func (w *worker) notify() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// waitForSignal waits up to one poll interval for notify. It returns false
// on timeout or exit request.
func (w *worker) waitForSignal() bool {
	t := time.NewTimer(w.pollInterval)
	defer t.Stop()
	select {
	case <-w.signal:
		return true
	case <-t.C:
		return false
	case <-w.exit:
		return false
	}
}

func (w *worker) requestExit() {
	w.exitOnce.Do(func() { close(w.exit) })
}

func (w *worker) exiting() bool {
	select {
	case <-w.exit:
		return true
	default:
		return false
	}
}

// join waits for the worker goroutine to return. It returns at once if the
// worker was never launched.
func (w *worker) join() {
	w.stateMu.RLock()
	started := w.started
	w.stateMu.RUnlock()
	if started {
		<-w.done
	}
}

// fail reports an unrecoverable error upward.
func (w *worker) fail(err error) {
	w.logger.Error("stage_error", "error", err)
	if w.callbacks.OnError != nil {
		w.callbacks.OnError(err)
	}
}
