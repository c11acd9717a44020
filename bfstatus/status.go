// Package bfstatus defines the status taxonomy shared by all bifrost APIs.
package bfstatus

import "errors"

// Kind classifies an error condition.
type Kind int

// Status kinds.
const (
	KindSuccess Kind = iota
	KindInvalidArgument
	KindInvalidState
	KindInvalidSpace
	KindInvalidShape
	KindInvalidDtype
	KindWouldBlock
	KindEndOfData
	KindTimeout
	KindInterrupted
	KindOverrun
	KindInsufficientStorage
	KindUnsupported
	KindInternal
)

var kindNames = map[Kind]string{
	KindSuccess:             "SUCCESS",
	KindInvalidArgument:     "INVALID_ARGUMENT",
	KindInvalidState:        "INVALID_STATE",
	KindInvalidSpace:        "INVALID_SPACE",
	KindInvalidShape:        "INVALID_SHAPE",
	KindInvalidDtype:        "INVALID_DTYPE",
	KindWouldBlock:          "WOULD_BLOCK",
	KindEndOfData:           "END_OF_DATA",
	KindTimeout:             "TIMEOUT",
	KindInterrupted:         "INTERRUPTED",
	KindOverrun:             "OVERRUN",
	KindInsufficientStorage: "INSUFFICIENT_STORAGE",
	KindUnsupported:         "UNSUPPORTED",
	KindInternal:            "INTERNAL",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[KindInternal]
}

// Error is a status error.
type Error struct {
	K Kind
}

func (e *Error) Error() string {
	return e.K.String()
}

// Sentinel errors, one per kind. Wrap with fmt.Errorf("...: %w", Err...) to
// attach context; classify with KindOf.
var (
	ErrInvalidArgument     = &Error{KindInvalidArgument}
	ErrInvalidState        = &Error{KindInvalidState}
	ErrInvalidSpace        = &Error{KindInvalidSpace}
	ErrInvalidShape        = &Error{KindInvalidShape}
	ErrInvalidDtype        = &Error{KindInvalidDtype}
	ErrWouldBlock          = &Error{KindWouldBlock}
	ErrEndOfData           = &Error{KindEndOfData}
	ErrTimeout             = &Error{KindTimeout}
	ErrInterrupted         = &Error{KindInterrupted}
	ErrOverrun             = &Error{KindOverrun}
	ErrInsufficientStorage = &Error{KindInsufficientStorage}
	ErrUnsupported         = &Error{KindUnsupported}
	ErrInternal            = &Error{KindInternal}
)

// KindOf extracts the status kind from an error.
// nil maps to KindSuccess; an error outside the taxonomy maps to KindInternal.
func KindOf(e error) Kind {
	if e == nil {
		return KindSuccess
	}
	var se *Error
	if errors.As(e, &se) {
		return se.K
	}
	return KindInternal
}
