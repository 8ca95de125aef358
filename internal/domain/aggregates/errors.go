package aggregates

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode standardizes aggregate failure semantics across entity families.
type ErrorCode string

const (
	CodeValidation         ErrorCode = "validation"
	CodeNotFound           ErrorCode = "not_found"
	CodeConflict           ErrorCode = "conflict"
	CodeInvariantViolation ErrorCode = "invariant_violation"
	CodePreconditionFailed ErrorCode = "precondition_failed"
	CodeRetryable          ErrorCode = "retryable"
	CodeInternal           ErrorCode = "internal"
)

var (
	// ErrNotFound marks a missing aggregate or a missing version slice.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition marks a lifecycle operation that is illegal for the current status.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrLibraryNotEditable marks a mutation attempted against a locked library.
	ErrLibraryNotEditable = errors.New("library not editable")
	// ErrDuplicateContent marks a create/edit that collides with an existing item.
	ErrDuplicateContent = errors.New("duplicate content")
	// ErrConcurrentModification marks a save whose chain advanced after load.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrNoChanges marks a draft edit with content identical to the current draft.
	ErrNoChanges = errors.New("no changes")
)

// Error is the canonical aggregate error wrapper.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	UID     string
	Status  Status
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	if uid := strings.TrimSpace(e.UID); uid != "" {
		if op == "" {
			op = uid
		} else {
			op = op + "[" + uid + "]"
		}
	}
	msg := strings.TrimSpace(e.Message)
	if e.Status != "" {
		msg = strings.TrimSpace(fmt.Sprintf("%s (status=%s)", msg, e.Status))
	}
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, e.Code)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, e.Code)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, e.Code)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an aggregate error with explicit code + operation.
func NewError(code ErrorCode, op, message string, cause error) error {
	return &Error{
		Code:    code,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
		Cause:   cause,
	}
}

// Wrap annotates an existing error with aggregate error semantics.
func Wrap(code ErrorCode, op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(code, op, err.Error(), err)
}

// NotFound reports a missing aggregate or version slice.
func NotFound(op, uid, message string) error {
	if strings.TrimSpace(message) == "" {
		message = "aggregate not found"
	}
	return &Error{Code: CodeNotFound, Op: op, UID: uid, Message: message, Cause: ErrNotFound}
}

// InvalidTransition reports an operation that the current status does not allow.
func InvalidTransition(op, uid string, status Status, message string) error {
	return &Error{Code: CodeInvariantViolation, Op: op, UID: uid, Status: status, Message: message, Cause: ErrInvalidTransition}
}

// LibraryNotEditable reports a mutation against a library that forbids it.
func LibraryNotEditable(op, uid, library string) error {
	return &Error{
		Code:    CodePreconditionFailed,
		Op:      op,
		UID:     uid,
		Message: fmt.Sprintf("library %q is not editable", library),
		Cause:   ErrLibraryNotEditable,
	}
}

// DuplicateContent reports an identity collision found by the uniqueness hook.
func DuplicateContent(op, family, identityKey string) error {
	return &Error{
		Code:    CodeValidation,
		Op:      op,
		Message: fmt.Sprintf("%s with identity %q already exists", family, identityKey),
		Cause:   ErrDuplicateContent,
	}
}

// ConcurrentModification reports a stale load detected at save time.
func ConcurrentModification(op, uid, message string) error {
	if strings.TrimSpace(message) == "" {
		message = "chain advanced since load"
	}
	return &Error{Code: CodeConflict, Op: op, UID: uid, Message: message, Cause: ErrConcurrentModification}
}

// IsCode checks whether err (or wrapped err) carries the given aggregate code.
func IsCode(err error, code ErrorCode) bool {
	var aggErr *Error
	if !errors.As(err, &aggErr) {
		return false
	}
	return aggErr.Code == code
}

// CodeOf extracts the aggregate error code when available.
func CodeOf(err error) ErrorCode {
	var aggErr *Error
	if !errors.As(err, &aggErr) {
		return ""
	}
	return aggErr.Code
}
