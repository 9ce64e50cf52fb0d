package media

import (
	"errors"
	"fmt"
)

// Code classifies a failure reported to callers.
type Code string

const (
	CodeNotFound         Code = "FILE_NOT_FOUND"
	CodeDecode           Code = "DECODE_ERROR"
	CodeCompression      Code = "COMPRESSION_ERROR"
	CodeThumbnail        Code = "THUMBNAIL_ERROR"
	CodeMetadata         Code = "METADATA_ERROR"
	CodeIO               Code = "IO_ERROR"
	CodeInvalidArguments Code = "INVALID_ARGUMENTS"
)

// ErrCancelled is found in the chain of a job result that ended by cancellation.
var ErrCancelled = errors.New("compression cancelled")

// Error is the typed failure returned by every public operation.
type Error struct {
	Code Code
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error. A nil err is allowed.
func NewError(code Code, op, path string, err error) *Error {
	return &Error{Code: code, Op: op, Path: path, Err: err}
}

// Errorf builds an Error whose cause is a formatted message.
func Errorf(code Code, op, path, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Path: path, Err: fmt.Errorf(format, args...)}
}

// CodeOf returns the code of the first Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsCancelled reports whether err is the result of a cancelled job.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
