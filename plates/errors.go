package plates

import (
	"errors"
	"fmt"
)

// Kind classifies why a detect-and-crop call produced no images.
type Kind int

const (
	KindUnknown Kind = iota
	// KindLoadFailure means the detector could not be constructed.
	KindLoadFailure
	// KindNoDetection means the detector ran and found no plate.
	KindNoDetection
	// KindProcessingFailure covers decode, inference and render failures.
	KindProcessingFailure
)

func (k Kind) String() string {
	switch k {
	case KindLoadFailure:
		return "load_failure"
	case KindNoDetection:
		return "no_detection"
	case KindProcessingFailure:
		return "processing_failure"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrNoPlate is wrapped by every KindNoDetection error.
var ErrNoPlate = errors.New("no number plate detected")

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
