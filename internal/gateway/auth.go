package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/soyeahso/owlvin/internal/config"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// ResolvedAuth holds the admin credentials for profile endpoints.
type ResolvedAuth struct {
	Token string
}

// Enabled reports whether an admin token is configured.
func (a ResolvedAuth) Enabled() bool {
	return a.Token != ""
}

// ResolveAuth resolves authentication credentials from config.
func ResolveAuth(cfg config.GatewayAuth) ResolvedAuth {
	return ResolvedAuth{Token: strings.TrimSpace(cfg.Token)}
}

// Authorize checks a request's bearer token. With no token configured every
// request is allowed.
func Authorize(serverAuth ResolvedAuth, r *http.Request) AuthResult {
	if !serverAuth.Enabled() {
		return AuthResult{OK: true}
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return AuthResult{OK: false, Reason: "token required"}
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return AuthResult{OK: false, Reason: "bearer token required"}
	}
	if !safeEqual(strings.TrimSpace(token), serverAuth.Token) {
		return AuthResult{OK: false, Reason: "token_mismatch"}
	}
	return AuthResult{OK: true}
}

// safeEqual performs a constant-time string comparison to prevent timing attacks.
// It avoids early-return on length mismatch to prevent leaking secret length via timing.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}
