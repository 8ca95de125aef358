package apierr

import (
	"fmt"
	"net/http"
)

// Error is an HTTP-ready failure: status, machine code and the uid the
// failure concerns, if any.
type Error struct {
	Status int
	Code   string
	UID    string
	Err    error
}

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func (e *Error) WithUID(uid string) *Error {
	if e != nil {
		e.UID = uid
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Err != nil:
		return e.Err.Error()
	case e.Code != "":
		return e.Code
	default:
		return fmt.Sprintf("%d %s", e.HTTPStatus(), http.StatusText(e.HTTPStatus()))
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// HTTPStatus defaults an unset status to 500.
func (e *Error) HTTPStatus() int {
	if e == nil || e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}
