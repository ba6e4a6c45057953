// Package errors is the error shape of the transport: a status, the wrapped
// cause and optional per-field details, serialized as JSON.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/jdholdren/brief/internal/brief"
)

// Error is an error carrying the HTTP status it should be reported with.
type Error struct {
	Status  int
	Err     error // The error this wraps
	Details []Detail
}

type Detail struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s, details: %v", e.Status, e.Err, e.Details)
}

func (e *Error) Unwrap() error { return e.Err }

type transport struct {
	Message string   `json:"message"`
	Details []Detail `json:"details"`
	Status  int      `json:"status"`
}

func (s *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(transport{
		Message: s.Err.Error(),
		Details: s.Details,
		Status:  s.Status,
	})
}

func (s *Error) UnmarshalJSON(byts []byte) error {
	t := transport{}
	if err := json.Unmarshal(byts, &t); err != nil {
		return err
	}

	s.Err = errors.New(t.Message)
	s.Details = t.Details
	s.Status = t.Status
	return nil
}

// E builds an Error from its arguments in any order: a string or error for
// the cause, an int for the status, details. The status defaults to 500.
func E(args ...any) *Error {
	ret := &Error{
		Status:  http.StatusInternalServerError,
		Err:     nil,
		Details: nil,
	}

	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			ret.Err = errors.New(arg)
		case error:
			ret.Err = arg
		case int:
			ret.Status = arg
		case Detail:
			ret.Details = append(ret.Details, arg)
		case []Detail:
			ret.Details = append(ret.Details, arg...)
		}
	}

	return ret
}

// FromDomain converts err to an Error, picking the status from the sentinel
// errors of the store. Unknown errors are internal.
func FromDomain(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	switch {
	case errors.Is(err, brief.ErrNotFound):
		return E(err, http.StatusNotFound)
	case errors.Is(err, brief.ErrInvalidQuery):
		return E(err, http.StatusBadRequest)
	case errors.Is(err, brief.ErrConflict), errors.Is(err, brief.ErrHomeFolderMissing):
		return E(err, http.StatusConflict)
	}

	return E("internal server error", http.StatusInternalServerError)
}
