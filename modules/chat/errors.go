package chat

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy of the messaging core.
var (
	// ErrValidation is returned for malformed input: blank or duplicate
	// participant ids, empty or oversized message content.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced conversation does not exist.
	ErrNotFound = errors.New("conversation not found")

	// ErrForbidden is returned when the caller is not a participant.
	ErrForbidden = errors.New("not a participant of this conversation")

	// ErrPersistence is returned when the underlying store fails.
	ErrPersistence = errors.New("persistence failure")
)

// Specific validation failures.
var (
	ErrEmptyContent        = fmt.Errorf("%w: message content is empty", ErrValidation)
	ErrContentTooLong      = fmt.Errorf("%w: message content exceeds %d bytes", ErrValidation, MaxContentLength)
	ErrMissingParticipant  = fmt.Errorf("%w: two participant ids are required", ErrValidation)
	ErrSameParticipant     = fmt.Errorf("%w: participants must be distinct", ErrValidation)
	ErrMissingConversation = fmt.Errorf("%w: conversation id is required", ErrValidation)
)

// serviceError keeps the text of an error received over the service container
// while restoring its sentinel for errors.Is.
type serviceError struct {
	sentinel error
	msg      string
}

func (e *serviceError) Error() string { return e.msg }
func (e *serviceError) Unwrap() error { return e.sentinel }

// mapServiceError converts service errors back to sentinel errors by checking
// the error message content. Errors lose their type information when sent
// over NATS.
func mapServiceError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, ErrValidation.Error()):
		return &serviceError{sentinel: ErrValidation, msg: msg}
	case strings.Contains(lower, ErrNotFound.Error()):
		return &serviceError{sentinel: ErrNotFound, msg: msg}
	case strings.Contains(lower, ErrForbidden.Error()):
		return &serviceError{sentinel: ErrForbidden, msg: msg}
	case strings.Contains(lower, ErrPersistence.Error()):
		return &serviceError{sentinel: ErrPersistence, msg: msg}
	}

	return err
}

// Reason returns the client-facing part of an error message, without the
// service call prefixes added along the way.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrPersistence):
		return "message could not be stored, please retry"
	case errors.Is(err, ErrForbidden):
		return ErrForbidden.Error()
	case errors.Is(err, ErrNotFound):
		return ErrNotFound.Error()
	case errors.Is(err, ErrValidation):
		msg := err.Error()
		if i := strings.LastIndex(msg, ErrValidation.Error()+": "); i >= 0 {
			return msg[i+len(ErrValidation.Error())+2:]
		}
		return ErrValidation.Error()
	}
	return "internal error"
}
