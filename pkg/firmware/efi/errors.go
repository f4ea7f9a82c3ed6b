package efi

import (
	"errors"
	"fmt"
	"strings"
)

// ErrKind classifies errors so callers can branch on intent rather than text.
type ErrKind int

const (
	KindUnknown           ErrKind = iota
	KindNotFound                  // variable or registry entry does not exist
	KindPermissionDenied          // backend refused access
	KindUnavailable               // variable interface not supported on this platform
	KindInvalidAttributes         // backend rejected the attribute combination
	KindInvalidArgument           // caller supplied an unusable argument
	KindIO                        // read/write failed or was inconsistent
	KindAmbiguous                 // registry holds duplicate reverse mappings
	KindParse                     // malformed GUID text or image
)

var kindNames = map[ErrKind]string{
	KindUnknown:           "unknown error",
	KindNotFound:          "not found",
	KindPermissionDenied:  "permission denied",
	KindUnavailable:       "variables not supported",
	KindInvalidAttributes: "invalid attributes",
	KindInvalidArgument:   "invalid argument",
	KindIO:                "i/o error",
	KindAmbiguous:         "ambiguous",
	KindParse:             "invalid format",
}

func (k ErrKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrKind(%d)", int(k))
}

// Error is a typed error with an optional operation, variable and cause.
type Error struct {
	Kind ErrKind
	Op   string      // operation that failed, e.g. "get" or "parse"
	ID   *VariableID // variable involved, if any
	Msg  string
	Err  error // optional underlying cause
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		if e.ID != nil {
			sb.WriteByte(' ')
			sb.WriteString(e.ID.String())
		}
		sb.WriteString(": ")
	}
	if e.Msg != "" {
		sb.WriteString(e.Msg)
	} else {
		sb.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind. The sentinels
// below carry only a kind, so errors.Is(err, ErrNotFound) matches any
// not-found error regardless of operation or variable.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t == nil {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	// ErrTruncated is a refinement of KindIO and only matches itself.
	if t.Msg == truncatedMsg {
		return e.Msg == truncatedMsg
	}
	return true
}

const truncatedMsg = "short read"

// Sentinels for errors.Is.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrPermissionDenied  = &Error{Kind: KindPermissionDenied}
	ErrUnavailable       = &Error{Kind: KindUnavailable}
	ErrInvalidAttributes = &Error{Kind: KindInvalidAttributes}
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument}
	ErrIO                = &Error{Kind: KindIO}
	// ErrTruncated is an ErrIO raised when stored data is shorter than the
	// backend reported.
	ErrTruncated     = &Error{Kind: KindIO, Msg: truncatedMsg}
	ErrAmbiguous     = &Error{Kind: KindAmbiguous}
	ErrInvalidFormat = &Error{Kind: KindParse}
)

// NewError returns an *Error of the given kind.
func NewError(kind ErrKind, op string, id *VariableID, err error) *Error {
	return &Error{Kind: kind, Op: op, ID: id, Err: err}
}

// Errorf returns an *Error of the given kind with a formatted message.
func Errorf(kind ErrKind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Truncated returns an ErrTruncated for id.
func Truncated(op string, id *VariableID, err error) *Error {
	return &Error{Kind: KindIO, Op: op, ID: id, Msg: truncatedMsg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
