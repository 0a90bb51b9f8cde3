package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShorthandConstructors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		err     *Error
		code    Code
		message string
	}{
		{name: "Validation", err: Validation("ttl must be positive"), code: CodeValidation, message: "ttl must be positive"},
		{name: "Validationf", err: Validationf("algorithm %q is not supported", "HS256"), code: CodeValidation, message: `algorithm "HS256" is not supported`},
		{name: "Internal", err: Internal("no claims"), code: CodeInternal, message: "no claims"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.message, tt.err.Message)
			assert.Nil(t, tt.err.Cause)
			assert.Empty(t, tt.err.Details)
		})
	}
}
