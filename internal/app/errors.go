package app

import "fmt"

// DomainError carries an HTTP status for failures that are not part of the
// review-flow envelope protocol (auth, malformed requests, infra).
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

// ErrorData is the tagged business-error payload carried in the response
// envelope. These are expected review-flow outcomes, not failures, so they
// ride an HTTP 200 with success=false.
type ErrorData struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

func (e *ErrorData) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return e.Type
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

const (
	errTypeNotFound          = "not_found"
	errTypeMessageNotFound   = "message_not_found"
	errTypeAlreadyResolved   = "already_resolved"
	errTypeValidation        = "validation_error"
	errTypeDuplicateApproval = "duplicate_approval"
)

func notFoundError() *ErrorData {
	return &ErrorData{Type: errTypeNotFound}
}

func messageNotFoundError() *ErrorData {
	return &ErrorData{Type: errTypeMessageNotFound}
}

func alreadyResolvedError() *ErrorData {
	return &ErrorData{Type: errTypeAlreadyResolved}
}

func validationError(message string) *ErrorData {
	return &ErrorData{Type: errTypeValidation, Message: message}
}

func duplicateApprovalError() *ErrorData {
	return &ErrorData{Type: errTypeDuplicateApproval}
}
