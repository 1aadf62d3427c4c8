// Package response writes the JSON envelope returned by every API endpoint.
package response

import (
	"net/http"

	"nodeo/pkg/errors"
	"nodeo/pkg/utils/contextkey"
	"nodeo/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response is the envelope. Code is errors.Success unless the call failed.
type Response struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    any              `json:"data,omitempty"`
	Details any              `json:"details,omitempty"`
	TraceID string           `json:"trace_id,omitempty"`
}

func Success(c *gin.Context, data any) {
	write(c, http.StatusOK, Response{Code: errors.Success, Message: "Success", Data: data})
}

// Accepted answers 202 for runs that finish asynchronously.
func Accepted(c *gin.Context, data any) {
	write(c, http.StatusAccepted, Response{Code: errors.Success, Message: "Accepted", Data: data})
}

// Error derives the status and code from err. Uncoded errors become 500s.
func Error(c *gin.Context, err error) {
	e := errors.GetError(err)
	status := e.Code.HTTPStatus()

	fields := []zap.Field{zap.Int("code", int(e.Code)), zap.Error(err)}
	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "request error", fields...)
	} else {
		logger.Warn(c.Request.Context(), "request error", fields...)
	}

	resp := Response{Code: e.Code, Message: e.Error()}
	if len(e.Details) > 0 {
		resp.Details = e.Details
	}
	write(c, status, resp)
}

// BadRequest answers 400 InvalidParams with msg.
func BadRequest(c *gin.Context, msg string) {
	Error(c, errors.New(errors.InvalidParams).WithMessage(msg))
}

func AbortWithError(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}

func write(c *gin.Context, status int, resp Response) {
	resp.TraceID = c.GetString(string(contextkey.TraceID))
	c.JSON(status, resp)
}
