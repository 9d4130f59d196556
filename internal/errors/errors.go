package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error represents a universal error type between the store, the providers, and the API.
type Error struct {
	Status  int
	Code    Code  // Machine readable reason, optional
	Err     error // The error this wraps
	Details []Detail
}

// Code is a short machine readable reason attached to an error, e.g. one
// returned from the ranking provider.
type Code string

const (
	CodeInvalidQuery Code = "invalid_query"
	CodeProvider     Code = "provider_error"
	CodeUnavailable  Code = "provider_unavailable"
)

type Detail struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%d: %s", e.Status, e.Err)
	}
	return fmt.Sprintf("%d: %s, details: %v", e.Status, e.Err, e.Details)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type transport struct {
	Message string   `json:"message"`
	Code    Code     `json:"code,omitempty"`
	Details []Detail `json:"details"`
	Status  int      `json:"status"`
}

func (s *Error) MarshalJSON() ([]byte, error) {
	msg := ""
	if s.Err != nil {
		msg = s.Err.Error()
	}
	return json.Marshal(transport{
		Message: msg,
		Code:    s.Code,
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
	s.Code = t.Code
	s.Details = t.Details
	s.Status = t.Status
	return nil
}

// E builds an [Error] from any mix of a message or error, a status, a [Code], and details.
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
		case Code:
			ret.Code = arg
		case Detail:
			ret.Details = append(ret.Details, arg)
		case []Detail:
			ret.Details = append(ret.Details, arg...)
		}
	}

	return ret
}

// Invalid joins every detail into one message so callers see all of the
// violations at once, not just the first.
func Invalid(details []Detail) *Error {
	msgs := make([]string, 0, len(details))
	for _, d := range details {
		msgs = append(msgs, fmt.Sprintf("%s: %s", d.Field, d.Error))
	}

	return E(strings.Join(msgs, "; "), http.StatusBadRequest, CodeInvalidQuery, details)
}

// StatusOf returns the status of a wrapped [Error], or 500.
func StatusOf(err error) int {
	var sErr *Error
	if errors.As(err, &sErr) {
		return sErr.Status
	}
	return http.StatusInternalServerError
}
