package errors

// Code represents a machine-readable error code. Codes follow the pattern
// CATEGORY_NNN where CATEGORY is a short identifier (TOKEN, KEY, VAL, INT)
// and NNN is a three-digit number. Codes are stable once assigned.
type Code string

// Error code categories:
//
//	TOKEN_xxx - token structure, signature, or claim failures
//	KEY_xxx   - verification key resolution failures
//	VAL_xxx   - configuration validation failures
//	INT_xxx   - internal failures
const (
	// CodeMalformedToken indicates the token is not three well-formed
	// base64url segments or its header is unusable.
	CodeMalformedToken Code = "TOKEN_001"

	// CodeInvalidSignature indicates the signature does not verify under the
	// resolved key, or the algorithm is not permitted for it.
	CodeInvalidSignature Code = "TOKEN_002"

	// CodeExpiredToken indicates the exp claim is missing or not in the future.
	CodeExpiredToken Code = "TOKEN_003"

	// CodeIssuerMismatch indicates the iss claim differs from the configured issuer.
	CodeIssuerMismatch Code = "TOKEN_004"

	// CodeAudienceMismatch indicates the aud claim does not contain the
	// configured audience.
	CodeAudienceMismatch Code = "TOKEN_005"

	// CodeNotYetValid indicates the nbf claim lies in the future.
	CodeNotYetValid Code = "TOKEN_006"

	// CodeKeyNotFound indicates the key set has no usable entry for the kid.
	CodeKeyNotFound Code = "KEY_001"

	// CodeKeyFetch indicates the key set could not be retrieved (network,
	// timeout, TLS, DNS, or non-200 response).
	CodeKeyFetch Code = "KEY_002"

	// CodeKeyParse indicates the key set document or the matching key could
	// not be parsed.
	CodeKeyParse Code = "KEY_003"

	// CodeValidation indicates a general configuration validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required configuration field is empty.
	CodeValidationRequired Code = "VAL_002"

	// CodeValidationFormat indicates a configuration field has an invalid format.
	CodeValidationFormat Code = "VAL_003"

	// CodeInternal indicates an unexpected internal failure, including a
	// verified token that lacks claims this system requires.
	CodeInternal Code = "INT_001"

	// CodeInternalConfiguration indicates configuration could not be loaded.
	CodeInternalConfiguration Code = "INT_002"
)

// kinds maps each code to its taxonomy name as used in logs.
var kinds = map[Code]string{
	CodeMalformedToken:        "MalformedToken",
	CodeInvalidSignature:      "InvalidSignature",
	CodeExpiredToken:          "ExpiredToken",
	CodeIssuerMismatch:        "IssuerMismatch",
	CodeAudienceMismatch:      "AudienceMismatch",
	CodeNotYetValid:           "NotYetValid",
	CodeKeyNotFound:           "KeyNotFound",
	CodeKeyFetch:              "KeyFetchError",
	CodeKeyParse:              "KeyParseError",
	CodeValidation:            "Validation",
	CodeValidationRequired:    "ValidationRequired",
	CodeValidationFormat:      "ValidationFormat",
	CodeInternal:              "InternalError",
	CodeInternalConfiguration: "InternalConfiguration",
}

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Kind returns the taxonomy name of the code (e.g. "ExpiredToken"), or
// "Unknown" for unregistered codes.
func (c Code) Kind() string {
	if k, ok := kinds[c]; ok {
		return k
	}
	return "Unknown"
}

// Category returns the category prefix of the error code (e.g., "TOKEN", "KEY").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
