package limiter

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// KeyFunc lets an application supply its own identity derivation. Returning
// false falls through to the built-in precedence chain.
type KeyFunc func(r *http.Request) (Identity, bool)

const (
	defaultSessionHeader = "X-Session-Token"
	defaultSessionCookie = "session_token"

	// credentialHashLen bounds the derived key length so shared-store key
	// sizes stay predictable.
	credentialHashLen = 16
)

// Identifier derives a stable Identity for the caller of a request.
//
// Precedence: the configured KeyFunc override, then a bearer Authorization
// header, then the session header, then the session cookie, and finally the
// network address. Credentials are never used as keys directly; they are
// reduced to a truncated one-way hash under the "user" namespace.
type Identifier struct {
	keyFn         KeyFunc
	sessionHeader string
	sessionCookie string
}

func NewIdentifier() *Identifier {
	return &Identifier{
		sessionHeader: defaultSessionHeader,
		sessionCookie: defaultSessionCookie,
	}
}

// Identify computes the ClientKey for a request. Identical callers under
// identical conditions always produce the same key.
func (i *Identifier) Identify(r *http.Request) Identity {
	if i.keyFn != nil {
		if id, ok := i.keyFn(r); ok {
			return id
		}
	}

	if cred := i.credential(r); cred != "" {
		return Identity{Namespace: NamespaceUser, Key: hashCredential(cred)}
	}

	return Identity{Namespace: NamespaceIP, Key: ClientAddr(r)}
}

// credential extracts the raw caller credential using the same precedence
// the exemption checker uses: bearer token, session header, session cookie.
func (i *Identifier) credential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if tok, ok := strings.CutPrefix(auth, "Bearer "); ok {
			if tok = strings.TrimSpace(tok); tok != "" {
				return tok
			}
		}
	}
	if v := strings.TrimSpace(r.Header.Get(i.sessionHeader)); v != "" {
		return v
	}
	if c, err := r.Cookie(i.sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return ""
}

// hashCredential reduces a raw credential to a fixed-length one-way encoding.
// The raw value must never be stored as a key.
func hashCredential(cred string) string {
	sum := sha256.Sum256([]byte(cred))
	return hex.EncodeToString(sum[:])[:credentialHashLen]
}

// ClientAddr extracts the caller's network address, preferring forwarding
// headers: the first X-Forwarded-For hop, then X-Real-IP, then the transport
// peer address. "unknown" is the last resort.
func ClientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, _ := strings.Cut(xff, ","); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
	}
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return rip
	}
	if host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr)); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
