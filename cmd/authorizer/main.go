// Command authorizer verifies bearer tokens against an identity provider's
// published key set.
//
// Run the forward-auth service:
//
//	authorizer serve --config authorizer.yaml
//
// Check a single token:
//
//	authorizer verify "$TOKEN"
//
// Every setting can be overridden with an AUTHORIZER_ environment
// variable, e.g. AUTHORIZER_ADDR or AUTHORIZER_AUTH_ISSUER.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand(&app{stdout: os.Stdout, stderr: os.Stderr})
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, errDenied) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}
