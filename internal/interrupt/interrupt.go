// Package interrupt holds the control signals node logic can raise toward
// the scheduler: deliberate aborts and fan-in deferral requests. They travel
// as error values so any node kind can surface them, but none of them is a
// failure.
package interrupt

import (
	"errors"
	"fmt"
	"strings"
)

// Abort is a deliberate, user-facing halt of downstream execution. The run
// still terminates normally with the payload attached.
type Abort struct {
	Message string
	Tag     string
}

func (a *Abort) Error() string {
	if a.Tag == "" {
		return fmt.Sprintf("aborted: %s", a.Message)
	}
	return fmt.Sprintf("aborted [%s]: %s", a.Tag, a.Message)
}

// RequireOutputs defers a node firing until every named predecessor has
// produced output. The engine buffers the arrival and re-checks readiness
// as new outputs land.
type RequireOutputs struct {
	Names []string
}

func (r *RequireOutputs) Error() string {
	return "waiting for node outputs: " + strings.Join(r.Names, ", ")
}

// ErrWaitForNextInput is the imperative deferral escape used from sandboxed
// code: "re-queue me, I am not ready". It is interpreted by the engine as a
// not-ready return signal, not a coroutine suspension.
var ErrWaitForNextInput = errors.New("wait for next input")

// AsAbort extracts an Abort signal from an error chain.
func AsAbort(err error) (*Abort, bool) {
	var a *Abort
	if errors.As(err, &a) {
		return a, true
	}
	return nil, false
}

// AsRequireOutputs extracts a RequireOutputs signal from an error chain.
func AsRequireOutputs(err error) (*RequireOutputs, bool) {
	var r *RequireOutputs
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// IsWait reports whether err is the wait-for-next-input signal.
func IsWait(err error) bool {
	return errors.Is(err, ErrWaitForNextInput)
}
