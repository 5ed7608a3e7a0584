package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// ResponseCode business response code carried in error bodies
type ResponseCode int

const (
	CodeSuccess ResponseCode = 0

	CodeInvalidParam ResponseCode = 10001
	CodeUnauthorized ResponseCode = 10002
	CodeForbidden    ResponseCode = 10003
	CodeRateLimit    ResponseCode = 10004
	CodeTimeout      ResponseCode = 10005

	CodeProductNotFound ResponseCode = 20001
	CodeStockNotEnough  ResponseCode = 20002

	CodeOrderNotFound ResponseCode = 30001
	CodeOrderExists   ResponseCode = 30002

	CodeDesignNotFound ResponseCode = 40001

	CodeInternalError ResponseCode = 50001
	CodeDatabaseError ResponseCode = 50002
	CodeBusError      ResponseCode = 50003
	CodeUpstreamError ResponseCode = 50004
)

// HTTPStatus maps a response code to the HTTP status it is reported with
func (c ResponseCode) HTTPStatus() int {
	switch c {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalidParam:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeProductNotFound, CodeOrderNotFound, CodeDesignNotFound:
		return http.StatusNotFound
	case CodeOrderExists:
		return http.StatusConflict
	case CodeStockNotEnough:
		return http.StatusUnprocessableEntity
	case CodeUpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError application error structure
type AppError struct {
	Code    ResponseCode `json:"code"`
	Message string       `json:"message"`
	Err     error        `json:"-"`
}

// Error implement error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("code: %d, message: %s, error: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
}

// Unwrap implement errors.Unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code, so wrapped sentinels compare with errors.Is
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError create new application error
func NewError(code ResponseCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps err with a code and a caller-facing message
func WrapError(err error, code ResponseCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Predefined errors
var (
	ErrInvalidParam = NewError(CodeInvalidParam, "invalid parameter")
	ErrUnauthorized = NewError(CodeUnauthorized, "unauthorized")

	ErrProductNotFound = NewError(CodeProductNotFound, "product not found")
	ErrStockNotEnough  = NewError(CodeStockNotEnough, "stock not enough")

	ErrOrderNotFound = NewError(CodeOrderNotFound, "order not found")

	ErrDesignNotFound = NewError(CodeDesignNotFound, "design not found")

	ErrInternalError = NewError(CodeInternalError, "internal server error")
	ErrDatabaseError = NewError(CodeDatabaseError, "database error")
	ErrBusError      = NewError(CodeBusError, "event bus error")
)

// IsAppError check if it's an application error, looking through wrapping
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetErrorCode get error code
func GetErrorCode(err error) ResponseCode {
	if appErr, ok := IsAppError(err); ok {
		return appErr.Code
	}
	return CodeInternalError
}

// GetErrorMessage get error message
func GetErrorMessage(err error) string {
	if appErr, ok := IsAppError(err); ok {
		return appErr.Message
	}
	return err.Error()
}
