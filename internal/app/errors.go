package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}

func unauthorized(code, message string) *DomainError {
	return domainError(http.StatusUnauthorized, code, message, nil)
}

func forbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Not enough permissions", nil)
}

func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
}

var (
	errInvalidCredentials = unauthorized("INVALID_CREDENTIALS", "Incorrect username or password")
	errAccountInactive    = unauthorized("ACCOUNT_INACTIVE", "Inactive user")
	errTokenExpired       = unauthorized("TOKEN_EXPIRED", "Token has expired")
	errUnauthorized       = unauthorized("UNAUTHORIZED", "Could not validate credentials")
	errUserExists         = domainError(http.StatusBadRequest, "USER_EXISTS", "Email or username already registered", nil)
	errInvalidParent      = domainError(http.StatusBadRequest, "INVALID_PARENT", "Parent comment not found in this report", nil)
	errPayloadTooLarge    = domainError(http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Upload exceeds the size limit", nil)
)
