package domain

import "errors"

type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindInvalidState    Kind = "invalid_state"
	KindValidation      Kind = "validation_failure"
	KindGateway         Kind = "gateway_failure"
	KindPersistence     Kind = "persistence_failure"
	KindUnauthenticated Kind = "unauthenticated"
)

// Error is the structured failure handed to callers of the service layer.
// Title is safe to show to a buyer; Err keeps the underlying cause.
type Error struct {
	Kind  Kind
	Title string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Title + ": " + e.Err.Error()
	}
	return e.Title
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NotFound(title string, err error) *Error {
	return &Error{Kind: KindNotFound, Title: title, Err: err}
}

func InvalidState(title string, err error) *Error {
	return &Error{Kind: KindInvalidState, Title: title, Err: err}
}

func ValidationFailure(title string, err error) *Error {
	return &Error{Kind: KindValidation, Title: title, Err: err}
}

func GatewayFailure(title string, err error) *Error {
	return &Error{Kind: KindGateway, Title: title, Err: err}
}

func PersistenceFailure(title string, err error) *Error {
	return &Error{Kind: KindPersistence, Title: title, Err: err}
}

func Unauthenticated(title string, err error) *Error {
	return &Error{Kind: KindUnauthenticated, Title: title, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when err
// is not structured.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
