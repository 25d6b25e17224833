package models

import "fmt"

type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeEngine      ErrorType = "engine"
	ErrorTypeExtraction  ErrorType = "extraction"
	ErrorTypePersistence ErrorType = "persistence"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeNotFound    ErrorType = "not_found"
)

type AppError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func (err *AppError) Error() string {
	if err.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", err.Code, err.Message, err.Cause)
	}
	return fmt.Sprintf("%s: %s", err.Code, err.Message)
}

func (err *AppError) Unwrap() error {
	return err.Cause
}

func (err *AppError) WithCause(cause error) *AppError {
	err.Cause = cause
	return err
}

func NewValidationError(code, message string) *AppError {
	return &AppError{Type: ErrorTypeValidation, Code: code, Message: message}
}

func NewEngineError(code, message string) *AppError {
	return &AppError{Type: ErrorTypeEngine, Code: code, Message: message}
}

func NewPersistenceError(code, message string) *AppError {
	return &AppError{Type: ErrorTypePersistence, Code: code, Message: message}
}

func NewTimeoutError(code, message string) *AppError {
	return &AppError{Type: ErrorTypeTimeout, Code: code, Message: message}
}

func NewNotFoundError(code, message string) *AppError {
	return &AppError{Type: ErrorTypeNotFound, Code: code, Message: message}
}

func WrapExternalError(service string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeEngine,
		Code:    fmt.Sprintf("%s_ERROR", service),
		Message: fmt.Sprintf("%s request failed", service),
		Cause:   err,
	}
}

func IsValidationError(err error) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Type == ErrorTypeValidation
}
