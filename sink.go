package kestrel

import (
	"context"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// BadJobSink is the terminal consumer for jobs whose error count exceeded
// errorLimit. This is the external "bad job" sink of spec.md §6; a
// scheduler may be configured without one, in which case such jobs are
// simply dropped.
type BadJobSink interface {
	Put(ctx context.Context, env *Envelope) error
}

// LogSink is the default BadJobSink, grounded on the teacher's own
// failure logging idiom in dispatcher.go's work method
// (level.Warn(d.logger).Log("err", ...)). It never fails.
type LogSink struct {
	Logger log.Logger
}

// NewLogSink returns a LogSink writing through logger. A nil logger
// becomes a no-op logger, matching the teacher's Queue.Consume fallback.
func NewLogSink(logger log.Logger) *LogSink {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &LogSink{Logger: logger}
}

// Put logs env as a dead-lettered job. It never returns an error; a sink
// failure must never be allowed to drain the worker pool (spec.md §7).
func (s *LogSink) Put(_ context.Context, env *Envelope) error {
	_ = level.Warn(s.Logger).Log(
		"msg", "job exceeded error limit, bad-sinked",
		"key", env.Key,
		"id", env.ID,
		"errorCount", env.ErrorCount,
		"err", env.ErrorMessage,
	)
	return nil
}
