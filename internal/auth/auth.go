// Package auth holds the bearer token checks shared by the admin API and
// the session handshake. Policy and credential storage live elsewhere.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator decides whether a presented token is acceptable.
type Validator interface {
	Validate(token string) error
}

// StaticToken accepts a single shared token, compared in constant time.
// An empty stored token accepts nothing.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token != "" && subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) == 1 {
		return nil
	}
	return ErrUnauthorized
}

// BearerFromHeader extracts the token from an Authorization header value.
func BearerFromHeader(header string) (string, bool) {
	after, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	if !ok {
		return "", false
	}
	token := strings.TrimSpace(after)
	return token, token != ""
}
