package services

import (
	"errors"
	"fmt"
)

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		for _, msg := range e.Fields {
			return msg
		}
	}
	return "Validation error"
}

// CredentialError means a key or token is missing or malformed. No remote call
// was attempted.
type CredentialError struct{ Message string }

func (e *CredentialError) Error() string { return e.Message }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

// RemoteServiceError wraps a failure reported by Gemini or Replicate.
type RemoteServiceError struct {
	Service string
	Message string
	Err     error
}

func (e *RemoteServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Service, e.Message)
}

func (e *RemoteServiceError) Unwrap() error { return e.Err }

// ErrorCode classifies err into the code and message shown to clients.
// Remote failures carry the provider's message behind an "Error: " prefix.
func ErrorCode(err error) (string, string) {
	var (
		validation *ValidationError
		credential *CredentialError
		notFound   *NotFoundError
		remote     *RemoteServiceError
	)

	switch {
	case errors.As(err, &validation):
		return "VALIDATION_ERROR", validation.Error()
	case errors.As(err, &credential):
		return "CREDENTIAL_ERROR", credential.Message
	case errors.As(err, &notFound):
		return "NOT_FOUND", notFound.Message
	case errors.As(err, &remote):
		return "REMOTE_ERROR", "Error: " + remote.Message
	default:
		return "INTERNAL_ERROR", "An unexpected error occurred"
	}
}
