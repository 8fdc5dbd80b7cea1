package document

import "errors"

var (
	// ErrNotLoaded is returned by accessors called before Parse succeeded.
	ErrNotLoaded = errors.New("document is not parsed")

	// ErrTerminated is returned once the manager has been terminated.
	ErrTerminated = errors.New("document manager terminated")

	// ErrNoPageRef is returned when saving new annotations on a page that is
	// stored directly in its parent.
	ErrNoPageRef = errors.New("page has no object reference")
)
