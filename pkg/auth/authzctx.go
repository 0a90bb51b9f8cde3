package auth

import (
	"slices"
	"strings"

	sserr "github.com/StricklySoft/authorizer/pkg/errors"
)

// permissionSeparator joins permissions in the flat context form.
const permissionSeparator = ","

// AuthorizationContext is the flat, string-only result handed to downstream
// request handlers. It is a value type and never changes once built.
//
// AuthorizedPermissions is the deduplicated permission set, sorted and
// joined with commas, so equal sets always render identically.
type AuthorizationContext struct {
	AuthorizedTenant      string `json:"AuthorizedTenant"`
	AuthorizedPermissions string `json:"AuthorizedPermissions"`
}

// BuildContext projects verified claims into an [AuthorizationContext].
// Claims without a tenant produce an InternalError: the token was genuine
// but cannot be attributed to anyone. So does a permission containing the
// separator, which the flat form cannot represent.
func BuildContext(claims *VerifiedClaims) (AuthorizationContext, error) {
	if claims == nil {
		return AuthorizationContext{}, sserr.Internal("auth: no verified claims to build context from")
	}

	tenant := claims.Tenant()
	if tenant == "" {
		return AuthorizationContext{}, sserr.Newf(sserr.CodeInternal,
			"auth: verified claims have no %q claim", claims.tenantClaim)
	}

	perms := claims.Permissions()
	for _, p := range perms {
		if strings.Contains(p, permissionSeparator) {
			return AuthorizationContext{}, sserr.Newf(sserr.CodeInternal,
				"auth: permission %q contains the %q separator", p, permissionSeparator)
		}
	}
	slices.Sort(perms)
	perms = slices.Compact(perms)

	return AuthorizationContext{
		AuthorizedTenant:      tenant,
		AuthorizedPermissions: strings.Join(perms, permissionSeparator),
	}, nil
}

// Map returns the context as a scalar string map, the shape expected by
// gateway authorizer responses.
func (a AuthorizationContext) Map() map[string]string {
	return map[string]string{
		"AuthorizedTenant":      a.AuthorizedTenant,
		"AuthorizedPermissions": a.AuthorizedPermissions,
	}
}

// Permissions splits AuthorizedPermissions back into a sorted list.
func (a AuthorizationContext) Permissions() []string {
	if a.AuthorizedPermissions == "" {
		return nil
	}
	return strings.Split(a.AuthorizedPermissions, permissionSeparator)
}

// HasPermission reports whether perm is in the permission set.
func (a AuthorizationContext) HasPermission(perm string) bool {
	if perm == "" {
		return false
	}
	_, found := slices.BinarySearch(a.Permissions(), perm)
	return found
}

// IsZero reports whether a is the zero value, i.e. nothing was authorized.
func (a AuthorizationContext) IsZero() bool {
	return a == AuthorizationContext{}
}
