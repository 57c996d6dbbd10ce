package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Predefined error constructors
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    "VALIDATION_ERROR",
		Message: message,
	}
}

// NewAuthenticationError indicates that no usable identity was presented.
func NewAuthenticationError(message string) *AppError {
	return &AppError{
		Code:    "AUTHENTICATION_REQUIRED",
		Message: message,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
	}
}

// NewForbiddenError indicates an authenticated caller without the required privilege.
func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Message: message,
	}
}

// NewAlreadyOwnedError indicates an entitlement purchase for a feature the
// subject already owns.
func NewAlreadyOwnedError(feature string) *AppError {
	return &AppError{
		Code:    "ALREADY_OWNED",
		Message: fmt.Sprintf("feature %q is already owned", feature),
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    "STORAGE_ERROR",
		Message: "Internal server error",
		Err:     err,
	}
}

// InsufficientFundsError carries the shortfall details the purchase endpoint
// must report. It is deliberately not an AppError: handlers need the numeric
// fields, not just a message.
type InsufficientFundsError struct {
	Required int64
	Current  int64
	Needed   int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: have %d, need %d more (cost %d)", e.Current, e.Needed, e.Required)
}

// IsCode reports whether err is (or wraps) an AppError with the given code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound reports whether err is a not-found application error.
func IsNotFound(err error) bool {
	return IsCode(err, "NOT_FOUND")
}

// respondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	if appErr, ok := err.(*AppError); ok {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		if appErr.Err != nil {
			response.Details = appErr.Err.Error()
		}
	} else {
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}
