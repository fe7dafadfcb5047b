// Package errs implements the core's typed error-kind taxonomy. Components
// return *Error (or wrap one) instead of ad-hoc error strings, so callers
// can branch on Kind without parsing messages.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies a category of failure. Kinds are compared by value, not
// by message, so translation layers (HTTP, CLI) can map them once.
type Kind string

const (
	NotFound            Kind = "NotFound"
	AlreadyExists       Kind = "AlreadyExists"
	PreconditionFailed  Kind = "PreconditionFailed"
	ValidationFailed    Kind = "ValidationFailed"
	BranchNotWritable   Kind = "BranchNotWritable"
	HierarchyViolation  Kind = "HierarchyViolation"
	LockConflict        Kind = "LockConflict"
	LockExpired         Kind = "LockExpired"
	MergeUnresolved     Kind = "MergeUnresolved"
	BackendUnavailable  Kind = "BackendUnavailable"
	Timeout             Kind = "Timeout"
	Internal            Kind = "Internal"
)

// Detail is one item of structured context attached to an Error: a
// validator issue, a conflict summary, or an ETag mismatch.
type Detail struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Error is the structured error every core component boundary returns.
type Error struct {
	Kind    Kind
	Message string
	Details []Detail
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is lets errors.Is match an *Error against a KindError target (a bare
// Kind used as an error value) or against another *Error of the same Kind.
func (e *Error) Is(target error) bool {
	var k KindError
	if errors.As(target, &k) {
		return e.Kind == Kind(k)
	}
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindError is a bare Kind usable as an errors.Is target:
// errors.Is(err, errs.KindError(errs.NotFound)).
type KindError Kind

func (k KindError) Error() string { return string(k) }

// New constructs an *Error with no wrapped cause.
func New(kind Kind, message string, details ...Detail) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

// Wrap constructs an *Error that preserves cause for %w-style unwrapping.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Of returns the Kind of err, or Internal if err is not an *Error.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err's Kind equals kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}
