package pipeline

import "codeberg.org/mutker/harvester/internal/errors"

const (
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrAborted       = errors.ErrPipelineAbort

	// Fact Errors
	ErrInvalidFact = errors.ErrorCode("pipeline_invalid_fact")
	ErrEncodeFact  = errors.ErrorCode("pipeline_encode_failed")
)
