package entity

import "errors"

var (
	// Message errors
	ErrInvalidMessageID = errors.New("invalid message id")
	ErrInvalidTicketID  = errors.New("invalid ticket id")

	// Media errors
	ErrInvalidMediaDescriptor = errors.New("media descriptor must carry exactly one of inline payload or remote reference")

	// Contact / ticket errors
	ErrInvalidContactNumber = errors.New("invalid contact number")

	// Instance errors
	ErrInvalidInstanceName = errors.New("invalid instance name")
)
