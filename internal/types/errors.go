package types

import "fmt"

// Kind enumerates the stable error categories the spec requires: every
// API boundary returns one of these, never an ad-hoc string. Error()
// yields the "LoanError::OutOfMemory" style stable form used in logs
// and in the FFI round-trip this core is designed to sit underneath.
type Kind int

const (
	// Capacity errors.
	ExceedsMaxSupportedPublishers Kind = iota
	ExceedsMaxSupportedSubscribers
	ExceedsMaxLoans
	ExceedsMaxLoanSize

	// Resource errors.
	OutOfMemory
	UnableToCreateDataSegment

	// Connectivity errors.
	ConnectionCorrupted
	SubscriberDisconnected

	// Protocol misuse, reported rather than recovered.
	AlreadySent
	FixedSizeSliceLengthViolation

	// InternalFailure signals a caller-visible but non-fatal internal
	// error (e.g. a handle that was already released). Invariant
	// violations severe enough to abort the process instead go through
	// a publisher's DegradationCallback returning types.Abort (spec
	// §4.4), not through this Kind.
	InternalFailure
)

var kindNames = map[Kind]string{
	ExceedsMaxSupportedPublishers:  "ExceedsMaxSupportedPublishers",
	ExceedsMaxSupportedSubscribers: "ExceedsMaxSupportedSubscribers",
	ExceedsMaxLoans:                "ExceedsMaxLoans",
	ExceedsMaxLoanSize:             "ExceedsMaxLoanSize",
	OutOfMemory:                    "OutOfMemory",
	UnableToCreateDataSegment:      "UnableToCreateDataSegment",
	ConnectionCorrupted:            "ConnectionCorrupted",
	SubscriberDisconnected:         "SubscriberDisconnected",
	AlreadySent:                    "AlreadySent",
	FixedSizeSliceLengthViolation:  "FixedSizeSliceLengthViolation",
	InternalFailure:                "InternalFailure",
}

// family groups kinds under the error-type prefix their stable display
// form uses, mirroring how the original implementation names its
// Rust error enums (LoanError, SendError, ConnectionError, ...).
var family = map[Kind]string{
	ExceedsMaxSupportedPublishers:  "RegistryError",
	ExceedsMaxSupportedSubscribers: "RegistryError",
	ExceedsMaxLoans:                "LoanError",
	ExceedsMaxLoanSize:             "LoanError",
	OutOfMemory:                    "LoanError",
	UnableToCreateDataSegment:      "SegmentError",
	ConnectionCorrupted:            "SendError",
	SubscriberDisconnected:         "SendError",
	AlreadySent:                    "SendError",
	FixedSizeSliceLengthViolation:  "LoanError",
	InternalFailure:                "SendError",
}

// Error is the single error type every API boundary in this module
// returns. A caller distinguishes kinds with errors.Is against the
// package-level sentinels below, never by parsing Error().
type Error struct {
	Kind Kind
	msg  string
}

func (e *Error) Error() string {
	if e.msg != "" {
		return fmt.Sprintf("%s: %s", e.displayKind(), e.msg)
	}
	return e.displayKind()
}

func (e *Error) displayKind() string {
	return fmt.Sprintf("%s::%s", family[e.Kind], kindNames[e.Kind])
}

// Is lets errors.Is(err, types.ErrOutOfMemory) match by Kind, ignoring
// the attached message.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// NewError constructs an *Error of the given kind with an optional
// contextual message appended to its stable display form.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// Sentinel errors for errors.Is comparisons at call sites, one per
// Kind. Equivalent to the Rust source's per-variant enum values.
var (
	ErrExceedsMaxSupportedPublishers  = &Error{Kind: ExceedsMaxSupportedPublishers}
	ErrExceedsMaxSupportedSubscribers = &Error{Kind: ExceedsMaxSupportedSubscribers}
	ErrExceedsMaxLoans                = &Error{Kind: ExceedsMaxLoans}
	ErrExceedsMaxLoanSize             = &Error{Kind: ExceedsMaxLoanSize}
	ErrOutOfMemory                    = &Error{Kind: OutOfMemory}
	ErrUnableToCreateDataSegment      = &Error{Kind: UnableToCreateDataSegment}
	ErrConnectionCorrupted            = &Error{Kind: ConnectionCorrupted}
	ErrSubscriberDisconnected         = &Error{Kind: SubscriberDisconnected}
	ErrAlreadySent                    = &Error{Kind: AlreadySent}
	ErrFixedSizeSliceLengthViolation  = &Error{Kind: FixedSizeSliceLengthViolation}
	ErrInternalFailure                = &Error{Kind: InternalFailure}
)
