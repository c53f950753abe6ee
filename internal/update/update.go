// Package update delivers runtime configuration changes to the run loop.
//
// The run loop polls a Channel once per tick and between reconnect attempts,
// so a pending change is applied promptly even while the broker is away.
package update

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/buttonpanel/internal/logging"
)

// Channel is serviced by the run loop. Poll must not block.
type Channel interface {
	Poll()
}

// Timings are the reloadable intervals.
type Timings struct {
	Lockout time.Duration
	Idle    time.Duration
}

// Loader reads the current timings from their source.
type Loader func() (Timings, error)

// Watcher reloads timings when a signal arrives on its channel.
type Watcher struct {
	sig   <-chan os.Signal
	load  Loader
	apply func(Timings)
	log   logrus.FieldLogger

	// Report, if set, receives the running totals after every reload.
	Report func(ok, failed int)

	reloads  int
	failures int
}

// NewWatcher creates a Watcher. Each signal received on sig triggers one call
// to load; a successful result is handed to apply.
func NewWatcher(sig <-chan os.Signal, load Loader, apply func(Timings)) *Watcher {
	return &Watcher{
		sig:   sig,
		load:  load,
		apply: apply,
		log:   logging.For("update"),
	}
}

// Poll checks for a pending reload without blocking.
// Reload errors are logged and the previous timings stay in effect.
func (w *Watcher) Poll() {
	select {
	case s := <-w.sig:
		w.reload(s)
	default:
	}
}

func (w *Watcher) reload(s os.Signal) {
	if w.Report != nil {
		defer func() { w.Report(w.reloads, w.failures) }()
	}
	t, err := w.load()
	if err != nil {
		w.failures++
		w.log.WithError(err).WithField("signal", s).Error("reload failed, keeping current timings")
		return
	}
	w.reloads++
	w.log.WithFields(logrus.Fields{
		"signal":  s,
		"lockout": t.Lockout,
		"idle":    t.Idle,
	}).Info("timings reloaded")
	if w.apply != nil {
		w.apply(t)
	}
}

// Reloads returns the number of successful and failed reloads.
func (w *Watcher) Reloads() (ok, failed int) {
	return w.reloads, w.failures
}

// Nop is a Channel with nothing to deliver.
type Nop struct{}

// Poll does nothing.
func (Nop) Poll() {}
