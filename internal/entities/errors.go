package entities

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrConnectionOffline = errors.New("connection is not connected")
	ErrInvalidCursor     = errors.New("invalid cursor")
	ErrUnsupportedMedia  = errors.New("unsupported media")
	ErrUnknownEvent      = errors.New("unknown gateway event")
	ErrInvalidInput      = errors.New("invalid input")
)

// DispatchError is a failed outbound send. The message is already FAILED.
type DispatchError struct {
	MessageID string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch message %s: %v", e.MessageID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// EnrichmentError is a failed media augmentation. The message stays valid.
type EnrichmentError struct {
	Kind MessageType
	Err  error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrich %s: %v", e.Kind, e.Err)
}

func (e *EnrichmentError) Unwrap() error { return e.Err }
