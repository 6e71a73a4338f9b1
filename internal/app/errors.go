package app

import "fmt"

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

// permissionDenied names the privilege the caller's reputation fell short
// of, so clients can explain the gate.
func permissionDenied(privilege string) *DomainError {
	return domainError(403, "PERMISSION_DENIED", "Permission denied", map[string]any{"privilege": privilege})
}

// validationFailure carries a field to messages map.
func validationFailure(fields map[string][]string) *DomainError {
	return domainError(422, "VALIDATION_FAILURE", "Validation failed", fields)
}
