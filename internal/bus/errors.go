package bus

import "codeberg.org/mutker/harvester/internal/errors"

const (
	// Handler Errors
	ErrHandlerPanic  = errors.ErrorCode("bus_handler_panic")
	ErrHandlerFailed = errors.ErrorCode("bus_handler_failed")
)
