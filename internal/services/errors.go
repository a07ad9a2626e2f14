package services

import (
	"errors"
	"fmt"
)

// ImportErrorKind classifies where an import run failed
type ImportErrorKind string

const (
	FetchFailed ImportErrorKind = "fetch_failed" // network or timeout on any feed, nothing parsed
	ParseFailed ImportErrorKind = "parse_failed" // malformed feed document, nothing written
	WriteFailed ImportErrorKind = "write_failed" // store error during reconciliation, partial state
)

var (
	// ErrImportFailed matches every *ImportError via errors.Is
	ErrImportFailed = errors.New("import failed")

	// ErrImportInProgress is returned when another import holds the lock
	ErrImportInProgress = errors.New("import already in progress")
)

// ImportError is the single failure type surfaced by the import pipeline
type ImportError struct {
	Kind ImportErrorKind
	Op   string // feed name or store operation
	Err  error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("import %s (%s): %v", e.Kind, e.Op, e.Err)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

// Is lets callers test errors.Is(err, ErrImportFailed) without caring about the kind
func (e *ImportError) Is(target error) bool {
	return target == ErrImportFailed
}

// ImportErrorKindOf returns the kind of the first *ImportError in err's chain
func ImportErrorKindOf(err error) (ImportErrorKind, bool) {
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie.Kind, true
	}
	return "", false
}

var (
	// ErrNotFound is returned by stores when a keyed record does not exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a create would overwrite a record
	ErrAlreadyExists = errors.New("already exists")
)
