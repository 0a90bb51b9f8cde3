package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/authorizer/internal/testutil"
	"github.com/StricklySoft/authorizer/internal/testutil/fixtures"
	"github.com/StricklySoft/authorizer/pkg/auth"
	sserr "github.com/StricklySoft/authorizer/pkg/errors"
)

type cliFixture struct {
	key        *testutil.KeyPair
	configPath string
	jwks       *testutil.JWKSServer
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	kp := testutil.NewRSAKeyPair(t, fixtures.KeyID)
	jwks := testutil.NewJWKSServer(t, kp)
	body := fmt.Sprintf("log_level: error\nauth:\n  issuer: %q\n  audience: %q\n  jwks_url: %q\n",
		fixtures.Issuer, fixtures.Audience, jwks.KeySetURL())
	return &cliFixture{
		key:        kp,
		configPath: testutil.TempConfigFile(t, body, ".yaml"),
		jwks:       jwks,
	}
}

func (f *cliFixture) run(stdin string, args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	a := &app{
		stdout:   &stdout,
		stderr:   &stderr,
		stdin:    strings.NewReader(stdin),
		authOpts: []auth.Option{auth.WithHTTPClient(f.jwks.Client())},
	}
	cmd := newRootCommand(a)
	cmd.SetArgs(append([]string{"--config", f.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVerify_Allow(t *testing.T) {
	t.Parallel()
	f := newCLIFixture(t)
	token := f.key.Sign(t, testutil.ValidClaims(time.Now()))

	out, _, err := f.run("", "verify", token)
	require.NoError(t, err)

	var got auth.AuthorizationContext
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, auth.AuthorizationContext{
		AuthorizedTenant:      fixtures.Tenant,
		AuthorizedPermissions: "read,write",
	}, got)
}

func TestVerify_TokenFromStdin(t *testing.T) {
	t.Parallel()
	f := newCLIFixture(t)
	token := f.key.Sign(t, testutil.ValidClaims(time.Now()))

	out, _, err := f.run(token+"\n", "verify", "-")
	require.NoError(t, err)
	assert.Contains(t, out, `"AuthorizedTenant": "acme"`)

	_, _, err = f.run("   \n", "verify")
	testutil.RequireErrorCode(t, err, sserr.CodeValidationRequired)
}

func TestVerify_Deny(t *testing.T) {
	t.Parallel()
	f := newCLIFixture(t)
	claims := testutil.ValidClaims(time.Now())
	claims["exp"] = time.Now().Add(-time.Minute).Unix()

	out, errOut, err := f.run("", "verify", f.key.Sign(t, claims))
	require.ErrorIs(t, err, errDenied)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "denied: ExpiredToken (TOKEN_003)")
}

func TestVerify_InvalidConfig(t *testing.T) {
	t.Parallel()
	path := testutil.TempConfigFile(t, "auth:\n  issuer: \"\"\n", ".yaml")
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(&app{stdout: &stdout, stderr: &stderr})
	cmd.SetArgs([]string{"--config", path, "verify", "x.y.z"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.True(t, sserr.IsValidation(err), "expected a VAL error, got %v", err)
}

func TestServe_RejectsArgs(t *testing.T) {
	t.Parallel()
	f := newCLIFixture(t)
	_, _, err := f.run("", "serve", "extra")
	require.Error(t, err)
}
