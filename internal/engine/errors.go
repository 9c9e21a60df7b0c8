package engine

import (
	"errors"
	"fmt"
)

// NodeRunError reports that a node's logic failed at runtime, after any
// configured retries. It aborts the whole run and is surfaced to the
// caller; the run log and partial outputs remain inspectable on the result.
type NodeRunError struct {
	NodeID string
	Err    error
}

func (e *NodeRunError) Error() string {
	return fmt.Sprintf("node %q run failed: %v", e.NodeID, e.Err)
}

func (e *NodeRunError) Unwrap() error { return e.Err }

// IsNodeRunError reports whether err is a NodeRunError.
func IsNodeRunError(err error) bool {
	var nre *NodeRunError
	return errors.As(err, &nre)
}
