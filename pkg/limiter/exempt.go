package limiter

import (
	"context"
	"net/http"
)

// DefaultExemptRole is the single privileged role exempt from limiting when
// no explicit role set is configured.
const DefaultExemptRole = "admin"

// ExemptChecker decides whether a caller bypasses limiting entirely.
//
// Allow-listed addresses short-circuit; otherwise the caller's role is
// resolved through the identity collaborator and compared against the exempt
// role set. Identity resolution failures are treated as "not exempt": the
// checker fails closed on exemption even though the engine as a whole fails
// open on enforcement. Exemption lookups never touch counter state.
type ExemptChecker struct {
	addrs    map[string]struct{}
	roles    map[string]struct{}
	resolver RoleResolver
	ident    *Identifier
}

func NewExemptChecker(resolver RoleResolver, ident *Identifier) *ExemptChecker {
	return &ExemptChecker{
		addrs:    make(map[string]struct{}),
		roles:    map[string]struct{}{DefaultExemptRole: {}},
		resolver: resolver,
		ident:    ident,
	}
}

func (c *ExemptChecker) allowAddresses(addrs []string) {
	for _, a := range addrs {
		if a != "" {
			c.addrs[a] = struct{}{}
		}
	}
}

func (c *ExemptChecker) setRoles(roles []string) {
	c.roles = make(map[string]struct{}, len(roles))
	for _, r := range roles {
		if r != "" {
			c.roles[r] = struct{}{}
		}
	}
}

// IsExempt reports whether the request bypasses limiting. addr is the
// already-extracted client address (see ClientAddr).
func (c *ExemptChecker) IsExempt(ctx context.Context, r *http.Request, addr string) bool {
	if _, ok := c.addrs[addr]; ok {
		return true
	}
	if c.resolver == nil || len(c.roles) == 0 {
		return false
	}

	cred := c.ident.credential(r)
	if cred == "" {
		return false
	}

	caller, err := c.resolver.Resolve(ctx, cred)
	if err != nil || caller == nil {
		return false
	}
	_, ok := c.roles[caller.Role]
	return ok
}
