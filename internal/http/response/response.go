package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/clinical-mdr/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	UID     string `json:"uid,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondAPIError(c *gin.Context, e *apierr.Error) {
	if e == nil {
		RespondError(c, http.StatusInternalServerError, "internal", nil)
		return
	}
	c.JSON(e.HTTPStatus(), ErrorEnvelope{
		Error: APIError{Message: e.Error(), Code: e.Code, UID: e.UID},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}
