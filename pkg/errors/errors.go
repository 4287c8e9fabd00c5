package errors

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

const (
	CodeInvalidInput   ErrorCode = "INVALID_INPUT"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeAlreadyExists  ErrorCode = "ALREADY_EXISTS"
	CodeInternal       ErrorCode = "INTERNAL_ERROR"
	CodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"

	// Pipeline failures. Each one is fatal for a single message only.
	CodeMediaDownload        ErrorCode = "MEDIA_DOWNLOAD_FAILED"
	CodeGatewayDispatch      ErrorCode = "GATEWAY_DISPATCH_FAILED"
	CodeTranscode            ErrorCode = "TRANSCODE_FAILED"
	CodeUnsupportedTransport ErrorCode = "UNSUPPORTED_TRANSPORT"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewInvalidInputError 创建无效输入错误
func NewInvalidInputError(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: message,
	}
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: message,
	}
}

// NewInternalErrorWithCause 创建带原因的内部错误
func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Err:     cause,
	}
}

// NewServiceUnavailableError wraps a failure of an external collaborator
// (provider gateway admin/session API) that is not a message dispatch.
func NewServiceUnavailableError(message string, cause error) *AppError {
	return &AppError{
		Code:    CodeServiceUnavail,
		Message: message,
		Err:     cause,
	}
}

// NewMediaDownloadError marks an inbound media item that could not be fetched
// or written. The message carrying it is dropped.
func NewMediaDownloadError(message string, cause error) *AppError {
	return &AppError{
		Code:    CodeMediaDownload,
		Message: message,
		Err:     cause,
	}
}

// NewGatewayDispatchError marks a failed outbound send. Nothing is persisted.
func NewGatewayDispatchError(message string, cause error) *AppError {
	return &AppError{
		Code:    CodeGatewayDispatch,
		Message: message,
		Err:     cause,
	}
}

// NewTranscodeError marks a transcoder failure or timeout.
func NewTranscodeError(message string, cause error) *AppError {
	return &AppError{
		Code:    CodeTranscode,
		Message: message,
		Err:     cause,
	}
}

// NewUnsupportedTransportError is returned when an instance is not served by
// the HTTP gateway transport.
func NewUnsupportedTransportError(transport string) *AppError {
	return &AppError{
		Code:    CodeUnsupportedTransport,
		Message: "instance transport not supported: " + transport,
	}
}

// CodeOf returns the code of the first AppError in the chain, or "".
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsNotFound 判断是否为未找到错误
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsInvalidInput 判断是否为无效输入错误
func IsInvalidInput(err error) bool {
	return CodeOf(err) == CodeInvalidInput
}

func IsMediaDownload(err error) bool {
	return CodeOf(err) == CodeMediaDownload
}

func IsGatewayDispatch(err error) bool {
	return CodeOf(err) == CodeGatewayDispatch
}

func IsTranscode(err error) bool {
	return CodeOf(err) == CodeTranscode
}

func IsUnsupportedTransport(err error) bool {
	return CodeOf(err) == CodeUnsupportedTransport
}
