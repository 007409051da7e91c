package auth

import (
	"errors"
	"net/http"
	"strings"
)

var (
	ErrAuthorizationMissing = errors.New("Authorization header is required")
	ErrAuthorizationScheme  = errors.New("Authorization header must start with Bearer")
)

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrAuthorizationMissing
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrAuthorizationScheme
	}
	return strings.TrimSpace(token), nil
}

// ExtractToken finds the bearer token of a connection request. Browsers cannot
// set headers on websocket upgrades, so the token query parameter wins.
func ExtractToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	token, err := BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return ""
	}
	return token
}
