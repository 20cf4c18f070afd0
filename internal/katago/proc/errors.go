package proc

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout        = errors.New("engine request timeout")
	ErrNotRunning     = errors.New("engine process not running")
	ErrProcessExited  = errors.New("engine process exited")
	ErrProcessStopped = errors.New("engine process stopped")
	ErrClosed         = errors.New("correlator closed")
)

// EngineError is an explicit error reported by the engine for one request.
type EngineError struct {
	ID      string
	Message string
	Field   string
}

func (e *EngineError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("engine error (id=%s field=%s): %s", e.ID, e.Field, e.Message)
	}
	return fmt.Sprintf("engine error (id=%s): %s", e.ID, e.Message)
}

// IsProcessError reports whether err means the engine process itself is gone,
// as opposed to a single request failing.
func IsProcessError(err error) bool {
	return errors.Is(err, ErrNotRunning) || errors.Is(err, ErrProcessExited) || errors.Is(err, ErrProcessStopped)
}
