package errs

import (
	"fmt"
	"runtime/debug"

	"github.com/go-logr/logr"
	"go.uber.org/atomic"
)

// Handler reports errors that escaped plugin code and could not be
// returned to a caller, e.g. a panic inside a hook callback invoked
// from a native thread.
//
// The zero value logs nothing and never escalates.
type Handler struct {
	Log logr.Logger

	fatal    atomic.Bool
	reported atomic.Uint64
}

// NewHandler returns a Handler logging to log.
func NewHandler(log logr.Logger, fatal bool) *Handler {
	h := &Handler{Log: log}
	h.fatal.Store(fatal)
	return h
}

// SetFatal switches whether reported errors crash the process.
func (h *Handler) SetFatal(fatal bool) { h.fatal.Store(fatal) }

// Fatal reports whether reported errors crash the process.
func (h *Handler) Fatal() bool { return h.fatal.Load() }

// Reported returns the number of errors handled so far.
func (h *Handler) Reported() uint64 { return h.reported.Load() }

// Handle reports err. It panics with err if the fatal policy is set,
// otherwise it returns so the caller can continue.
func (h *Handler) Handle(err error, keysAndValues ...any) {
	if err == nil || h == nil {
		return
	}
	h.reported.Inc()
	h.Log.Error(err, "unhandled error", keysAndValues...)
	if h.fatal.Load() {
		panic(err)
	}
}

// Recover converts a recovered panic value into an error wrapping kind.
// It returns nil if r is nil.
func Recover(r any, kind error) error {
	if r == nil {
		return nil
	}
	if err, ok := r.(error); ok {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return fmt.Errorf("%w: panic: %v\n%s", kind, r, debug.Stack())
}
