// Package apperr defines the error taxonomy shared by the ledger, read tracker
// and rating collector. Every error returned by those packages is either an
// *Error or wraps one.
package apperr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Kind is the category of a failure; it decides how callers react to it.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation is malformed input, rejected before any store access.
	KindValidation
	// KindConflict means another actor already acted; retrying will not help.
	KindConflict
	// KindTransient is a store timeout or connectivity failure; safe to retry.
	KindTransient
	KindNotFound
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION"
	case KindConflict:
		return "CONFLICT"
	case KindTransient:
		return "TRANSIENT"
	case KindNotFound:
		return "NOT_FOUND"
	case KindForbidden:
		return "FORBIDDEN"
	default:
		return "UNKNOWN"
	}
}

// Code identifies a specific outcome inside a Kind.
type Code string

const (
	CodeValidation              Code = "Validation"
	CodeNotFound                Code = "NotFound"
	CodeTransient               Code = "Transient"
	CodeDuplicatePendingRequest Code = "DuplicatePendingRequest"
	CodeAlreadyResolved         Code = "AlreadyResolved"
	CodeAlreadyRated            Code = "AlreadyRated"
	CodeListingUnavailable      Code = "ListingUnavailable"
	CodeSelfRequestNotAllowed   Code = "SelfRequestNotAllowed"
	CodeOfferListingUnavailable Code = "OfferListingUnavailable"
	CodeNotConcluded            Code = "NotConcluded"
	CodeNotOwner                Code = "NotOwner"
	CodeNotParty                Code = "NotParty"
)

var codeKinds = map[Code]Kind{
	CodeValidation:              KindValidation,
	CodeNotFound:                KindNotFound,
	CodeTransient:               KindTransient,
	CodeDuplicatePendingRequest: KindConflict,
	CodeAlreadyResolved:         KindConflict,
	CodeAlreadyRated:            KindConflict,
	CodeListingUnavailable:      KindConflict,
	CodeSelfRequestNotAllowed:   KindConflict,
	CodeOfferListingUnavailable: KindConflict,
	CodeNotConcluded:            KindConflict,
	CodeNotOwner:                KindForbidden,
	CodeNotParty:                KindForbidden,
}

// Error is a typed, user-displayable failure.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code, so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates an Error for code with the given message.
func New(code Code, message string) *Error {
	return &Error{Kind: codeKinds[code], Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches a cause to a new Error.
func Wrap(code Code, message string, err error) *Error {
	e := New(code, message)
	e.Err = err
	return e
}

// Validationf is shorthand for a KindValidation error.
func Validationf(format string, args ...interface{}) *Error {
	return Newf(CodeValidation, format, args...)
}

// NotFoundf is shorthand for a KindNotFound error.
func NotFoundf(format string, args ...interface{}) *Error {
	return Newf(CodeNotFound, format, args...)
}

// FromValidator turns a validator failure into a single Validation error
// naming every rejected field.
func FromValidator(err error) *Error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Wrap(CodeValidation, "invalid input", err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return New(CodeValidation, "invalid input: "+strings.Join(parts, "; "))
}

// Sentinels for errors.Is checks.
var (
	ErrValidation              = New(CodeValidation, "validation failed")
	ErrNotFound                = New(CodeNotFound, "not found")
	ErrTransient               = New(CodeTransient, "transient store failure")
	ErrDuplicatePendingRequest = New(CodeDuplicatePendingRequest, "a pending request already exists for this listing")
	ErrAlreadyResolved         = New(CodeAlreadyResolved, "request already resolved")
	ErrAlreadyRated            = New(CodeAlreadyRated, "ratings already submitted for this request")
	ErrListingUnavailable      = New(CodeListingUnavailable, "listing unavailable")
	ErrSelfRequestNotAllowed   = New(CodeSelfRequestNotAllowed, "cannot request your own listing")
	ErrOfferListingUnavailable = New(CodeOfferListingUnavailable, "offered listing unavailable")
	ErrNotConcluded            = New(CodeNotConcluded, "request is not concluded")
	ErrNotOwner                = New(CodeNotOwner, "only the listing owner can resolve this request")
	ErrNotParty                = New(CodeNotParty, "caller is not a party of this request")
)

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
