// Package testutil provides shared test helpers for the authorizer.
//
// All helpers accept [testing.TB] and call t.Helper(). Helpers that halt
// the test use [require]; helpers that only record failures use [assert].
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/authorizer/pkg/errors"
)

// RequireErrorCode halts the test unless err is an *sserr.Error carrying code.
//
// Example:
//
//	_, err := authorizer.Authorize(ctx, token)
//	testutil.RequireErrorCode(t, err, sserr.CodeExpiredToken)
func RequireErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) *sserr.Error {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	ssErr, ok := sserr.AsError(err)
	require.True(t, ok, "expected *sserr.Error, got %T: %v", err, err)
	require.Equal(t, code, ssErr.Code,
		"error code mismatch: got %s (%s), want %s (%s); message: %s",
		ssErr.Code, ssErr.Code.Kind(), code, code.Kind(), ssErr.Message)
	return ssErr
}

// AssertErrorCode records a failure unless err is an *sserr.Error carrying
// code. Use it in table-driven tests that should check every row.
func AssertErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) bool {
	t.Helper()
	if !assert.Error(t, err, msgAndArgs...) {
		return false
	}
	ssErr, ok := sserr.AsError(err)
	if !assert.True(t, ok, "expected *sserr.Error, got %T: %v", err, err) {
		return false
	}
	return assert.Equal(t, code, ssErr.Code,
		"error code mismatch: got %s, want %s (message: %s)",
		ssErr.Code, code, ssErr.Message)
}

// TempConfigFile writes content to config<ext> inside t.TempDir() with
// mode 0600 and returns its path.
func TempConfigFile(t testing.TB, content, ext string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config"+ext)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600),
		"failed to write temp config file %s", path)
	return path
}

// SetEnv sets an environment variable for the duration of the test and
// restores the previous state on cleanup. Tests using it must not call
// t.Parallel().
func SetEnv(t testing.TB, key, value string) {
	t.Helper()
	prev, existed := os.LookupEnv(key)
	require.NoError(t, os.Setenv(key, value), "failed to set env var %s", key)
	t.Cleanup(func() {
		if existed {
			_ = os.Setenv(key, prev)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}
