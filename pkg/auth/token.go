package auth

import (
	"encoding/json"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/StricklySoft/authorizer/pkg/errors"
)

// maxTokenSize is the largest token accepted (8 KB). Larger inputs are
// rejected before any decoding work.
const maxTokenSize = 8192

// Header is the decoded JOSE header of a token. It is read before the
// signature is checked and only selects the verification key; nothing in
// it is trusted beyond that.
type Header struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	Typ string `json:"typ,omitempty"`
}

// UnverifiedToken is a structurally valid token whose signature has not
// been checked. It deliberately exposes no claim accessors: claims become
// readable only as [VerifiedClaims] returned by [Verifier.Verify].
type UnverifiedToken struct {
	signingInput string
	signature    []byte
	header       Header
	payloadRaw   []byte
}

// Header returns the decoded header.
func (t *UnverifiedToken) Header() Header { return t.header }

// KeyID returns the header kid.
func (t *UnverifiedToken) KeyID() string { return t.header.Kid }

// Algorithm returns the header alg.
func (t *UnverifiedToken) Algorithm() string { return t.header.Alg }

// segmentDecoder decodes base64url segments the same way the verifier
// will, so a token that decodes here cannot fail to decode there.
var segmentDecoder = jwt.NewParser()

// Decode splits token into its three segments, decodes the header and
// payload, and parses the header. It fails with [sserr.CodeMalformedToken]
// when the token is oversized, does not have exactly three non-empty
// segments, contains invalid base64url, has a non-JSON header, or names no
// usable alg or kid.
func Decode(token string) (*UnverifiedToken, error) {
	if token == "" {
		return nil, sserr.New(sserr.CodeMalformedToken, "auth: token must not be empty")
	}
	if len(token) > maxTokenSize {
		return nil, sserr.New(sserr.CodeMalformedToken, "auth: token exceeds maximum size")
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, sserr.Newf(sserr.CodeMalformedToken, "auth: token has %d segments, want 3", len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return nil, sserr.New(sserr.CodeMalformedToken, "auth: token has an empty segment")
		}
	}

	headerRaw, err := segmentDecoder.DecodeSegment(parts[0])
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeMalformedToken, "auth: header is not valid base64url")
	}
	payloadRaw, err := segmentDecoder.DecodeSegment(parts[1])
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeMalformedToken, "auth: payload is not valid base64url")
	}
	signature, err := segmentDecoder.DecodeSegment(parts[2])
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeMalformedToken, "auth: signature is not valid base64url")
	}

	var header Header
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeMalformedToken, "auth: header is not valid JSON")
	}
	switch {
	case header.Alg == "":
		return nil, sserr.New(sserr.CodeMalformedToken, "auth: header has no alg")
	case strings.EqualFold(header.Alg, "none"):
		return nil, sserr.New(sserr.CodeMalformedToken, "auth: algorithm 'none' is not permitted")
	case header.Kid == "":
		return nil, sserr.New(sserr.CodeMalformedToken, "auth: header has no kid")
	}

	return &UnverifiedToken{
		signingInput: parts[0] + "." + parts[1],
		signature:    signature,
		header:       header,
		payloadRaw:   payloadRaw,
	}, nil
}
