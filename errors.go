package castor

import (
	"errors"
	"fmt"
)

var (
	ErrInit                = errors.New("castor: device initialization failed")
	ErrClosed              = errors.New("castor: use of closed handle")
	ErrDeviceBusy          = errors.New("castor: device is still referenced by live objects")
	ErrDeviceMismatch      = errors.New("castor: object belongs to a different device")
	ErrOutOfBounds         = errors.New("castor: index out of bounds")
	ErrTypeMismatch        = errors.New("castor: element type mismatch")
	ErrMutationAfterCommit = errors.New("castor: buffer is frozen by a committed scene")
	ErrGeometryAttached    = errors.New("castor: geometry is attached to a scene")
	ErrSceneInUse          = errors.New("castor: scene is still referenced by an instance geometry")
	ErrUnknownID           = errors.New("castor: unknown geometry id")
	ErrNotCommitted        = errors.New("castor: scene is not committed")
	ErrCyclicInstance      = errors.New("castor: cyclic instance reference")
	ErrOutOfMemory         = errors.New("castor: memory budget exceeded")
	ErrInvalidRay          = errors.New("castor: invalid ray")
)

// IncompleteGeometryError indicates a geometry that reached commit with a
// required slot unfilled.
type IncompleteGeometryError struct {
	ID   GeometryID
	Kind GeometryKind
	Slot BufferSlot
}

func (e *IncompleteGeometryError) Error() string {
	return fmt.Sprintf("castor: %s geometry %d is missing its %s slot", e.Kind, e.ID, e.Slot)
}

// CommitError wraps the reason a scene commit failed. The scene remains in
// the building state and may be fixed up and re-committed.
type CommitError struct {
	Cause error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("castor: commit failed: %s", e.Cause.Error())
}

func (e *CommitError) Unwrap() error {
	return e.Cause
}
