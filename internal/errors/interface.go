package errors

// ErrorCode identifies a failure class. Codes are stable strings so they can
// be logged, counted and matched across package boundaries.
type ErrorCode string

// Coder is implemented by anything that can report an ErrorCode.
type Coder interface {
	Code() ErrorCode
}

// Error represents a domain-specific error with context
type Error interface {
	error
	Coder
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

// Factory defines methods for creating domain errors
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
