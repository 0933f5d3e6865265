package harvest

import "codeberg.org/mutker/harvester/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidRule   = errors.ErrInvalidRule

	// Submission Errors
	ErrEncodeBody   = errors.ErrorCode("harvest_encode_body_failed")
	ErrCompressBody = errors.ErrorCode("harvest_compress_body_failed")
	ErrBuildRequest = errors.ErrorCode("harvest_build_request_failed")
	ErrTransport    = errors.ErrorCode("harvest_transport_failed")
)
