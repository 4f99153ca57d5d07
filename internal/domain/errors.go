package domain

import "errors"

// Sentinel errors for the application.
var (
	ErrNotFound          = errors.New("resource not found")
	ErrUnauthorized      = errors.New("unauthorized access")
	ErrForbidden         = errors.New("forbidden")
	ErrConflict          = errors.New("resource already exists")
	ErrInternal          = errors.New("internal server error")
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotParticipant    = errors.New("you are not a participant in this chat")
	ErrChatClosed        = errors.New("chat does not accept new messages")
	ErrFloodLimited      = errors.New("too many consecutive emergency messages")
	ErrMessageDeleted    = errors.New("message is deleted")
	ErrInvalidTransition = errors.New("invalid status transition")
)
