package errors

// ErrorCode is the stable, machine-readable identifier of a failure, e.g.
// "device_read_failed". It is what logs and the API report.
type ErrorCode string

// Error is a coded error. WithMessage replaces the default text from the
// message table; WithData attaches context such as a channel name.
type Error interface {
	error
	Code() ErrorCode
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

// Factory builds coded errors.
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
