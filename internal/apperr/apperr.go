// Package apperr holds the error taxonomy shared by every component.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can react without string matching.
type Kind int

const (
	KindUnknown Kind = iota
	// InvalidArgument is returned before any I/O for bad parameters.
	InvalidArgument
	// NotFound covers missing files, empty pattern matches and absent collections.
	NotFound
	// UpstreamFailure wraps errors from embedding, chat or vector-store calls.
	UpstreamFailure
	// DataIntegrity marks malformed results from a collaborator.
	DataIntegrity
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid argument"
	case NotFound:
		return "not found"
	case UpstreamFailure:
		return "upstream failure"
	case DataIntegrity:
		return "data integrity"
	default:
		return "unknown"
	}
}

// Error is an operation-labelled error with a kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors of the same kind, so errors.Is(err, ErrNotFound) works
// for any NotFound error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrInvalidArgument = &Error{Kind: InvalidArgument}
	ErrNotFound        = &Error{Kind: NotFound}
	ErrUpstream        = &Error{Kind: UpstreamFailure}
	ErrDataIntegrity   = &Error{Kind: DataIntegrity}
)

var (
	ErrNoFilesMatched       = errors.New("no files matched the given patterns")
	ErrUnsupportedMode      = errors.New("unsupported chunking mode")
	ErrUnsupportedExtension = errors.New("unsupported file extension")
	ErrCollectionNotFound   = errors.New("collection does not exist")
)

// NewError labels err with the operation that failed. The kind of an
// already classified error is kept.
func NewError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}

// Invalid builds an InvalidArgument error.
func Invalid(op, format string, args ...any) error {
	return &Error{Kind: InvalidArgument, Op: op, Err: fmt.Errorf(format, args...)}
}

// NotFoundf builds a NotFound error.
func NotFoundf(op, format string, args ...any) error {
	return &Error{Kind: NotFound, Op: op, Err: fmt.Errorf(format, args...)}
}

// Integrity builds a DataIntegrity error.
func Integrity(op, format string, args ...any) error {
	return &Error{Kind: DataIntegrity, Op: op, Err: fmt.Errorf(format, args...)}
}

// Upstream marks err as a collaborator failure.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) && ae.Kind != KindUnknown {
		return &Error{Kind: ae.Kind, Op: op, Err: err}
	}
	return &Error{Kind: UpstreamFailure, Op: op, Err: err}
}

// Wrap attaches a kind and an operation label to err.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var ae *Error
	for err != nil {
		if errors.As(err, &ae) {
			if ae.Kind != KindUnknown {
				return ae.Kind
			}
			err = ae.Err
			continue
		}
		return KindUnknown
	}
	return KindUnknown
}
