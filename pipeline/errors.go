package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by lookups and stores when nothing matches.
	ErrNotFound = errors.New("not found")
	// ErrNotStartable is returned when a job is not PENDING or QUEUED.
	ErrNotStartable = errors.New("job is not in a startable state")
	// ErrEmptySlug is returned when a slug pattern renders to nothing.
	ErrEmptySlug = errors.New("generated slug is empty")
)

// ErrorKind classifies a row failure.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindResolution  ErrorKind = "resolution"
	KindPersistence ErrorKind = "persistence"
	KindInternal    ErrorKind = "internal"
)

// RowFailure is a failure isolated to a single input row.
type RowFailure struct {
	Kind ErrorKind
	Row  int
	Err  error
}

func (e *RowFailure) Error() string {
	return fmt.Sprintf("%s failure: %v", e.Kind, e.Err)
}

func (e *RowFailure) Unwrap() error { return e.Err }

func rowFailure(kind ErrorKind, row int, err error) *RowFailure {
	return &RowFailure{Kind: kind, Row: row, Err: err}
}
