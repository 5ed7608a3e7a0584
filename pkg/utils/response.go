package utils

import (
	"time"

	"github.com/gin-gonic/gin"
)

// Response error body
type Response struct {
	Code      ResponseCode `json:"code"`
	Message   string       `json:"message"`
	Timestamp int64        `json:"timestamp"`
}

// ErrorResponse writes an error body with an explicit HTTP status
func ErrorResponse(c *gin.Context, httpCode int, message string) {
	c.JSON(httpCode, Response{
		Code:      ResponseCode(httpCode),
		Message:   message,
		Timestamp: time.Now().Unix(),
	})
}

// Error writes an error body using the status mapped from code
func Error(c *gin.Context, code ResponseCode, message string) {
	c.JSON(code.HTTPStatus(), Response{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().Unix(),
	})
}

// AbortWithError writes the body for err and aborts the chain.
// Errors that are not AppErrors are reported as internal errors without leaking their text.
func AbortWithError(c *gin.Context, err error) {
	appErr, ok := IsAppError(err)
	if !ok {
		appErr = ErrInternalError
	}
	Error(c, appErr.Code, appErr.Message)
	c.Abort()
}
