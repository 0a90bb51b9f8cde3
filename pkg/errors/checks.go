package errors

import (
	"errors"
)

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the code of the first *Error in err's chain, or "".
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

// IsTokenError reports whether err is a TOKEN_xxx error.
func IsTokenError(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "TOKEN"
}

// IsKeyError reports whether err is a KEY_xxx error.
func IsKeyError(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "KEY"
}

// IsValidation reports whether err is a VAL_xxx error.
func IsValidation(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "VAL"
}

// IsInternal reports whether err is an INT_xxx error.
func IsInternal(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "INT"
}

// IsRetryable reports whether a higher layer may retry the request. Only
// key fetch failures qualify; the authorizer itself never retries.
func IsRetryable(err error) bool {
	return HasCode(err, CodeKeyFetch)
}

// IsDenial reports whether err should be answered with a deny. Every
// non-nil error is a denial; the function exists so call sites read as
// policy rather than as a nil check.
func IsDenial(err error) bool {
	return err != nil
}
