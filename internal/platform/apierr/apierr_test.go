package apierr

import (
	"errors"
	"net/http"
	"testing"
)

func TestErrorMessageAndStatus(t *testing.T) {
	cause := errors.New("unit definition not found")
	e := New(http.StatusNotFound, "not_found", cause).WithUID("UnitDefinition_1")
	if e.Error() != cause.Error() || !errors.Is(e, cause) {
		t.Fatalf("cause must drive message and unwrap: %v", e)
	}
	if e.HTTPStatus() != http.StatusNotFound || e.UID != "UnitDefinition_1" {
		t.Fatalf("unexpected error: %+v", e)
	}
	if got := (&Error{}).HTTPStatus(); got != http.StatusInternalServerError {
		t.Fatalf("unset status must default to 500, got %d", got)
	}
	if got := (&Error{Status: http.StatusConflict}).Error(); got != "409 Conflict" {
		t.Fatalf("unexpected bare message %q", got)
	}
}
