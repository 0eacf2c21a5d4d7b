package model

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	KindValidation           ErrorKind = "validation"
	KindExtraction           ErrorKind = "extraction"
	KindUpstreamDegraded     ErrorKind = "upstream_degraded"
	KindScoringInconsistency ErrorKind = "scoring_inconsistency"
	KindPersistence          ErrorKind = "persistence"
	KindNotFound             ErrorKind = "not_found"
	KindConflict             ErrorKind = "conflict"
	KindUpstream             ErrorKind = "upstream"
	KindInternal             ErrorKind = "internal"
)

// DefaultUserMessage is shown when a failure carries no specific message.
const DefaultUserMessage = "Une erreur interne est survenue pendant l'analyse du devis."

// Error is a classified failure carrying a French user-facing message.
type Error struct {
	Kind    ErrorKind
	Message string
	Details string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error kind to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindExtraction:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstream, KindUpstreamDegraded:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewError builds a classified error.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// ValidationError rejects malformed or disallowed input.
func ValidationError(message, details string) *Error {
	return &Error{Kind: KindValidation, Message: message, Details: details}
}

// ExtractionError reports unusable extraction output.
func ExtractionError(message string, cause error) *Error {
	return &Error{Kind: KindExtraction, Message: message, Err: cause}
}

// PersistenceError reports a failed read or write of the analysis record.
func PersistenceError(cause error) *Error {
	return &Error{Kind: KindPersistence, Message: "Impossible d'enregistrer le résultat de l'analyse.", Err: cause}
}

// NotFoundError reports a missing record.
func NotFoundError(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Message: "Analyse introuvable.", Details: fmt.Sprintf("%s %s", entity, id)}
}

// ConflictError reports an analysis that another run is already processing.
func ConflictError(id string) *Error {
	return &Error{Kind: KindConflict, Message: "Cette analyse est déjà en cours.", Details: "analysis " + id}
}

// UpstreamError reports a failed required dependency.
func UpstreamError(message string, cause error) *Error {
	return &Error{Kind: KindUpstream, Message: message, Err: cause}
}

// AsError extracts a classified error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal when unclassified.
func KindOf(err error) ErrorKind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindInternal
}

// UserMessage returns the French message to show for err.
func UserMessage(err error) string {
	if e, ok := AsError(err); ok && e.Message != "" {
		return e.Message
	}
	return DefaultUserMessage
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}
