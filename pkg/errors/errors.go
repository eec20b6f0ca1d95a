package errors

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

const (
	// CodeAcquisition 无法获取长轮询参数或群组 ID。
	CodeAcquisition ErrorCode = "ACQUISITION"
	// CodePolling 长轮询传输失败或返回了无法识别的 failed 码。
	CodePolling ErrorCode = "POLLING"
	// CodeExecute 批量请求中的单个调用被平台拒绝。
	CodeExecute ErrorCode = "EXECUTE"
	// CodeBatchTransport 整个批量请求失败。
	CodeBatchTransport ErrorCode = "BATCH_TRANSPORT"
	// CodeValidation 调用方参数错误，同步返回，不重试。
	CodeValidation ErrorCode = "VALIDATION"
)

// AppError 框架错误
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

// NewAcquisitionError 创建参数获取错误
func NewAcquisitionError(message string, cause error) *AppError {
	return &AppError{Code: CodeAcquisition, Message: message, Err: cause}
}

// NewPollingError 创建轮询错误
func NewPollingError(message string, cause error) *AppError {
	return &AppError{Code: CodePolling, Message: message, Err: cause}
}

// NewExecuteError 创建单次调用执行错误
func NewExecuteError(message string, cause error) *AppError {
	return &AppError{Code: CodeExecute, Message: message, Err: cause}
}

// NewBatchTransportError 创建批量传输错误
func NewBatchTransportError(message string, cause error) *AppError {
	return &AppError{Code: CodeBatchTransport, Message: message, Err: cause}
}

// NewValidationError 创建参数校验错误
func NewValidationError(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message}
}

// CodeOf 返回错误链中第一个 AppError 的错误码，不存在时返回空串。
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsAcquisition 判断是否为参数获取错误
func IsAcquisition(err error) bool {
	return CodeOf(err) == CodeAcquisition
}

// IsPolling 判断是否为轮询错误
func IsPolling(err error) bool {
	return CodeOf(err) == CodePolling
}

// IsExecute 判断是否为单次调用执行错误
func IsExecute(err error) bool {
	return CodeOf(err) == CodeExecute
}

// IsBatchTransport 判断是否为批量传输错误
func IsBatchTransport(err error) bool {
	return CodeOf(err) == CodeBatchTransport
}

// IsValidation 判断是否为参数校验错误
func IsValidation(err error) bool {
	return CodeOf(err) == CodeValidation
}
