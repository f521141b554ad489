package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnknownVenue      = errors.New("unknown venue")
	ErrWSDisconnect      = errors.New("websocket disconnected")
)
