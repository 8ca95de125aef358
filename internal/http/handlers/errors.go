package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domainagg "github.com/yungbote/clinical-mdr/internal/domain/aggregates"
	"github.com/yungbote/clinical-mdr/internal/http/response"
	"github.com/yungbote/clinical-mdr/internal/platform/apierr"
)

// ToAPIError maps lifecycle failures onto HTTP statuses. Sentinels are checked
// before codes because duplicate content carries the validation code.
func ToAPIError(err error) *apierr.Error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domainagg.ErrNotFound):
		return apierr.New(http.StatusNotFound, string(domainagg.CodeNotFound), err)
	case errors.Is(err, domainagg.ErrDuplicateContent):
		return apierr.New(http.StatusConflict, "duplicate_content", err)
	case errors.Is(err, domainagg.ErrConcurrentModification):
		return apierr.New(http.StatusConflict, string(domainagg.CodeConflict), err)
	case errors.Is(err, domainagg.ErrLibraryNotEditable):
		return apierr.New(http.StatusForbidden, string(domainagg.CodePreconditionFailed), err)
	case errors.Is(err, domainagg.ErrInvalidTransition):
		return apierr.New(http.StatusBadRequest, string(domainagg.CodeInvariantViolation), err)
	}
	code := domainagg.CodeOf(err)
	switch code {
	case domainagg.CodeValidation, domainagg.CodeInvariantViolation:
		return apierr.New(http.StatusBadRequest, string(code), err)
	case domainagg.CodeNotFound:
		return apierr.New(http.StatusNotFound, string(code), err)
	case domainagg.CodeConflict:
		return apierr.New(http.StatusConflict, string(code), err)
	case domainagg.CodePreconditionFailed:
		return apierr.New(http.StatusForbidden, string(code), err)
	case domainagg.CodeRetryable:
		return apierr.New(http.StatusServiceUnavailable, string(code), err)
	}
	return apierr.New(http.StatusInternalServerError, string(domainagg.CodeInternal), err)
}

func respondErr(c *gin.Context, err error) {
	apiErr := ToAPIError(err)
	var aggErr *domainagg.Error
	if errors.As(err, &aggErr) && aggErr.UID != "" {
		apiErr = apiErr.WithUID(aggErr.UID)
	}
	if apiErr.HTTPStatus() >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	response.RespondAPIError(c, apiErr)
}

func badRequest(c *gin.Context, err error) {
	response.RespondError(c, http.StatusBadRequest, string(domainagg.CodeValidation), err)
}
