package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error is the structured error the HTTP surface hands back to clients.
type Error struct {
	Status  int
	Reason  Reason // Machine readable tag the frontend can switch on
	Err     error  // The error this wraps
	Details []Detail
}

// Reason is a short machine readable code attached to an [Error].
type Reason string

type Detail struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%d (%s): %s, details: %v", e.Status, e.Reason, e.Err, e.Details)
	}
	return fmt.Sprintf("%d: %s, details: %v", e.Status, e.Err, e.Details)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type transport struct {
	Message string   `json:"message"`
	Reason  string   `json:"reason,omitempty"`
	Details []Detail `json:"details"`
	Status  int      `json:"status"`
}

func (s *Error) MarshalJSON() ([]byte, error) {
	msg := http.StatusText(s.Status)
	if s.Err != nil {
		msg = s.Err.Error()
	}

	return json.Marshal(transport{
		Message: msg,
		Reason:  string(s.Reason),
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
	s.Reason = Reason(t.Reason)
	s.Details = t.Details
	s.Status = t.Status
	return nil
}

// E builds an [Error] out of whatever it's given: strings and errors become the
// wrapped error, ints the status, and so on. Status defaults to 500.
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
		case Reason:
			ret.Reason = arg
		case Detail:
			ret.Details = append(ret.Details, arg)
		case []Detail:
			ret.Details = append(ret.Details, arg...)
		}
	}

	return ret
}
