// Package errs defines the closed error taxonomy the dataset engine uses to
// classify failures: callers type-switch or errors.Is against the sentinels
// here rather than parsing messages.
package errs

import "errors"

// Sentinels. Wrap with fmt.Errorf("...: %w", ErrX) at the call site to add
// context (dataset name, segment path) without losing the classification.
var (
	// ErrMalformedInput covers a bad envelope tag, a truncated varint, or any
	// other input that cannot be a valid encoded object.
	ErrMalformedInput = errors.New("malformed input")

	// ErrDataUnavailable means a metadata's source does not resolve to bytes on
	// disk (missing segment, missing.gz/.gz.idx sibling).
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrDataCorrupt means bytes were found but failed format validation.
	ErrDataCorrupt = errors.New("data corrupt")

	// ErrDuplicateInsert is raised by the index on a unique-constraint hit.
	ErrDuplicateInsert = errors.New("duplicate insert")

	// ErrIndexInconsistency covers an orphan or dangling index row.
	ErrIndexInconsistency = errors.New("index inconsistency")

	// ErrTransientIO covers EINTR/EAGAIN-class failures; callers may retry.
	ErrTransientIO = errors.New("transient i/o error")

	// ErrFatalIO covers ENOSPC/EIO-class failures; the active Pending must be
	// rolled back and locks released.
	ErrFatalIO = errors.New("fatal i/o error")

	// ErrConfigError means a dataset's configuration cannot be honoured
	// (unknown type, contradictory options). The dataset is refused.
	ErrConfigError = errors.New("invalid dataset configuration")
)

// Is reports whether err is classified as one of the given sentinels,
// following any %w wrapping chain.
func Is(err error, sentinel error) bool {
	return errors.Is(err, sentinel)
}
