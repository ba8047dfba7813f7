package tracker

import "fmt"

// CorruptStateError indicates that a state document exists on disk but could
// not be decoded. The tracker refuses to start in that case: silently
// resetting would re-offer every previously retrieved item and trigger a
// re-download storm.
type CorruptStateError struct {
	Path string // Location of the unreadable state document
	Err  error  // Underlying decode or validation error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt sync state in %s: %v", e.Path, e.Err)
}

func (e *CorruptStateError) Unwrap() error {
	return e.Err
}

// PersistError indicates that a mutating operation failed to write the state
// document. The in-memory state is rolled back, so the caller must treat the
// item as not retrieved and may retry.
type PersistError struct {
	Collection string // Collection whose mutation failed
	Err        error  // Underlying storage error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to persist sync state for collection %s: %v", e.Collection, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// ConflictError indicates an attempt to record an item that is already
// tracked under a different local path without the overwrite flag.
type ConflictError struct {
	Collection   string
	Item         string
	ExistingPath string // Path the item was previously recorded at
	ProposedPath string // Path the caller tried to record
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("item %s in collection %s already recorded at %s (attempted %s)",
		e.Item, e.Collection, e.ExistingPath, e.ProposedPath)
}

// InvalidArgumentError indicates a caller contract violation, such as an
// empty collection or item identifier.
type InvalidArgumentError struct {
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return "invalid argument: " + e.Reason
}
