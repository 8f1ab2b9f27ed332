package server

import "errors"

// Handler outcomes. They are returned for logging only; apart from
// ErrVersionMismatch none of them closes the connection.
var (
	ErrVersionMismatch    = errors.New("protocol version mismatch")
	ErrOutOfOrder         = errors.New("message before hello")
	ErrNonFiniteTransform = errors.New("non-finite transform")
	ErrUnexpectedMessage  = errors.New("unexpected clientbound message")
	ErrServerFull         = errors.New("server is full")
)
