package core

import (
	"errors"
	"fmt"
)

// Error kinds. Every domain error matches exactly one of these via errors.Is,
// which is what the HTTP layer maps to a status code.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("forbidden")
)

// Code is the stable snake_case identifier returned to clients.
type Code string

const (
	CodeNotFound                  Code = "not_found"
	CodeNoQuotesSubmitted         Code = "no_quotes_submitted"
	CodeNoSuitableQuote           Code = "no_suitable_quote"
	CodeLegAlreadyClosed          Code = "leg_already_closed"
	CodeInvalidEvidence           Code = "invalid_evidence"
	CodeNoEvidenceSubmitted       Code = "no_evidence_submitted"
	CodeSourceLegNotAvailable     Code = "source_leg_not_available"
	CodeInvalidReallocationAmount Code = "invalid_reallocation_amount"
	CodeEvidenceWindowClosed      Code = "evidence_window_closed"
	CodeEvidenceWindowStillOpen   Code = "evidence_window_still_open"
	CodeReviewDeadlinePassed      Code = "review_deadline_passed"
	CodeDecisionDeadlinePassed    Code = "decision_deadline_passed"
	CodeInvalidStatus             Code = "invalid_status"
	CodeInvalidRequest            Code = "invalid_request"
	CodeRFQExpired                Code = "rfq_expired"
	CodeRFQClosed                 Code = "rfq_closed"
	CodeRateLimited               Code = "rate_limited"
	CodeCapacityExceedsAmount     Code = "capacity_exceeds_amount"
	CodeForbidden                 Code = "forbidden"
)

// Error is a classified domain failure.
type Error struct {
	Kind    error
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

// Is matches either the kind sentinel or another *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Code == e.Code
	}
	return target == e.Kind
}

// Base errors, one per code. Use Errorf to attach context.
var (
	ErrUnknown                   = &Error{Kind: ErrNotFound, Code: CodeNotFound}
	ErrNoQuotesSubmitted         = &Error{Kind: ErrNotFound, Code: CodeNoQuotesSubmitted}
	ErrNoSuitableQuote           = &Error{Kind: ErrValidation, Code: CodeNoSuitableQuote}
	ErrLegAlreadyClosed          = &Error{Kind: ErrValidation, Code: CodeLegAlreadyClosed}
	ErrInvalidEvidence           = &Error{Kind: ErrValidation, Code: CodeInvalidEvidence}
	ErrNoEvidenceSubmitted       = &Error{Kind: ErrValidation, Code: CodeNoEvidenceSubmitted}
	ErrSourceLegNotAvailable     = &Error{Kind: ErrValidation, Code: CodeSourceLegNotAvailable}
	ErrInvalidReallocationAmount = &Error{Kind: ErrValidation, Code: CodeInvalidReallocationAmount}
	ErrEvidenceWindowClosed      = &Error{Kind: ErrValidation, Code: CodeEvidenceWindowClosed}
	ErrEvidenceWindowStillOpen   = &Error{Kind: ErrValidation, Code: CodeEvidenceWindowStillOpen}
	ErrReviewDeadlinePassed      = &Error{Kind: ErrValidation, Code: CodeReviewDeadlinePassed}
	ErrDecisionDeadlinePassed    = &Error{Kind: ErrValidation, Code: CodeDecisionDeadlinePassed}
	ErrInvalidStatus             = &Error{Kind: ErrValidation, Code: CodeInvalidStatus}
	ErrInvalidRequest            = &Error{Kind: ErrValidation, Code: CodeInvalidRequest}
	ErrRFQExpired                = &Error{Kind: ErrValidation, Code: CodeRFQExpired}
	ErrRFQClosed                 = &Error{Kind: ErrValidation, Code: CodeRFQClosed}
	ErrRateLimited               = &Error{Kind: ErrValidation, Code: CodeRateLimited}
	ErrCapacityExceedsAmount     = &Error{Kind: ErrValidation, Code: CodeCapacityExceedsAmount}
	ErrDenied                    = &Error{Kind: ErrForbidden, Code: CodeForbidden}
)

// Errorf derives a new error of the same kind and code as base with a message.
func Errorf(base *Error, format string, args ...any) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the domain code, or "" for unclassified errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
