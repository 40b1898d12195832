// Package auth extracts a document password from an inbound request
// and verifies it, grounded on original_source/server/src/auth.rs:
// HTTP Basic auth where the username must equal the slug, with a
// base64 `user:pass` token accepted as a query-param fallback for
// transports (WebSocket) that can't set an Authorization header.
package auth

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// FromHeaders extracts the password from a Basic Authorization
// header, requiring its username to equal slug (original_source's
// extract_password_from_headers). Returns ("", false) if the header
// is absent, malformed, or names a different slug.
func FromHeaders(r *http.Request, slug string) (string, bool) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != slug {
		return "", false
	}
	return pass, true
}

// FromToken decodes a base64 `user:pass` token (the `token` query
// param used by the WebSocket upgrade, which has no Authorization
// header) and requires user == slug, mirroring FromHeaders.
func FromToken(token, slug string) (string, bool) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return "", false
	}
	user, pass, found := strings.Cut(string(decoded), ":")
	if !found {
		return user, user == slug && user != ""
	}
	if user != slug {
		return "", false
	}
	return pass, true
}

// ExtractPassword tries the Authorization header first, then the
// `token` query parameter — the two transports this spec supports
// (HTTP API, WebSocket upgrade).
func ExtractPassword(r *http.Request, slug string) (string, bool) {
	if pass, ok := FromHeaders(r, slug); ok {
		return pass, true
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return FromToken(token, slug)
	}
	return "", false
}
