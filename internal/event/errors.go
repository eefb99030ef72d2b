package event

import "errors"

var (
	// ErrValidation wraps every rejection of an incoming event.
	ErrValidation = errors.New("validation failed")

	// ErrPersistence wraps every store failure. Details stay in the logs.
	ErrPersistence = errors.New("persistence failed")

	ErrMissingEventKind = errors.New("event kind is required")

	ErrEventKindTooLong = errors.New("event kind is too long")

	ErrMissingSessionID = errors.New("session id is required")

	ErrMissingTimestamp = errors.New("timestamp is required")

	ErrDuplicateEvent = errors.New("duplicate event")

	ErrInvalidField = errors.New("invalid payload field")
)
