// Package shutdown provides the single process-wide shutdown flag the
// scraper and publisher loops poll between units of work. It is written
// once by a signal handler and read by both loops; no other process-wide
// mutable state exists.
package shutdown

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// Flag is an atomic boolean, set once and polled many times.
type Flag struct {
	set atomic.Bool
}

// New returns an unset Flag.
func New() *Flag {
	return &Flag{}
}

// Requested reports whether shutdown has been signaled.
func (f *Flag) Requested() bool {
	return f.set.Load()
}

// Trigger sets the flag. Safe to call more than once.
func (f *Flag) Trigger() {
	f.set.Store(true)
}

// NotifyOnInterrupt sets the flag when SIGINT is received and returns a
// stop function to release the underlying signal channel.
func (f *Flag) NotifyOnInterrupt() (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)

	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			f.Trigger()
		case <-done:
		}
	}()

	return func() {
		close(done)
		signal.Stop(sigCh)
	}
}
