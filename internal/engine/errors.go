package engine

import "errors"

// dependencyUnavailableError signals a missing runtime dependency (e.g. the
// binary was built without llama.cpp) so callers can tell it apart from a
// malformed model.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	return errors.As(err, &e)
}

// ErrSessionClosed is returned by Session methods after Close.
var ErrSessionClosed = errors.New("session closed")

// ErrEmptyPrompt is returned by Generate when no query chunk was added.
var ErrEmptyPrompt = errors.New("no query chunks submitted")
