// Package telemetry defines the narrow error-reporting contract the
// scraper and publisher loops report failures through. It is a contract
// boundary only: the default Sink logs structured entries via logrus rather
// than talking to a real Sentry-compatible ingestion endpoint.
package telemetry

import (
	"github.com/sirupsen/logrus"

	"github.com/ortdev/fianotify/internal/redact"
)

// Sink captures an error with contextual tags for later triage.
type Sink interface {
	Capture(err error, tags map[string]string)
}

// LogrusSink implements Sink by emitting structured log entries. DSN is
// accepted so the caller's configuration wiring doesn't need a branch for
// "no telemetry configured", but it is never dialed.
type LogrusSink struct {
	DSN    string
	Redact *redact.Filter
}

// NewLogrusSink builds a Sink bound to the given DSN (informational only).
// filter may be nil, in which case captured text passes through unscrubbed.
func NewLogrusSink(dsn string, filter *redact.Filter) *LogrusSink {
	return &LogrusSink{DSN: dsn, Redact: filter}
}

// Capture logs err at error level with the given tags attached as fields.
// The error and tag values are passed through the redact filter first, since
// download/upload failures often embed the failing URL verbatim.
func (s *LogrusSink) Capture(err error, tags map[string]string) {
	if err == nil {
		return
	}
	msg := err.Error()
	fields := logrus.Fields{}
	for k, v := range tags {
		if s.Redact != nil {
			v = s.Redact.Redact(v)
		}
		fields[k] = v
	}
	if s.Redact != nil {
		msg = s.Redact.Redact(msg)
	}
	logrus.WithFields(fields).Error(msg)
}
