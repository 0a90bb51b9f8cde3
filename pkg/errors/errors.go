// Package errors provides the structured error type used across the
// authorizer. Every failure carries a machine-readable [Code] that names
// the failure kind, a short message, an optional cause, and optional
// details for diagnostics.
//
// # Error Categories
//
//   - TOKEN: the presented token is malformed, unverifiable, or its claims
//     do not satisfy the configured policy
//   - KEY: the verification key could not be resolved from the key set
//   - VAL: configuration failed validation
//   - INT: unexpected internal failures
//
// # Fail-closed
//
// Every error produced while authorizing a request is terminal for that
// request and maps to a deny. Codes and messages are for logs and traces
// only; transport layers never echo them to callers.
//
// # Usage
//
//	err := errors.New(errors.CodeKeyNotFound, "auth: key not present in key set")
//	err = err.WithDetail("kid", kid)
//
//	if errors.IsKeyError(err) {
//	    logger.Warn("key resolution failed", "code", errors.GetCode(err))
//	}
package errors
