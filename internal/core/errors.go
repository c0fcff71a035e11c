// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Callers wrap them with context and match with errors.Is.
var (
	// Datagram framing errors
	ErrUnknownMagic   = errors.New("sqelf: unrecognized datagram prefix")
	ErrChunkMalformed = errors.New("sqelf: malformed chunk")

	// Chunk bookkeeping errors
	ErrChunkConflict   = errors.New("sqelf: chunk count conflicts with buffered message")
	ErrChunkLimit      = errors.New("sqelf: chunk count exceeds configured limit")
	ErrMessageTooLarge = errors.New("sqelf: message exceeds size limit")

	// Payload errors
	ErrDecompress     = errors.New("sqelf: decompression failed")
	ErrInvalidMessage = errors.New("sqelf: invalid GELF message")

	// Receive loop errors
	ErrServerClosed = errors.New("sqelf: server closed")
	ErrQueueFull    = errors.New("sqelf: handoff queue full")

	// Output errors
	ErrOutputNotFound = errors.New("sqelf: output type not found")

	// Configuration errors
	ErrConfigInvalid = errors.New("sqelf: invalid configuration")
)
