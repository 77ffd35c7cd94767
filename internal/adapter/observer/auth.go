package observer

import "crypto/subtle"

// TokenAuth admits websocket clients presenting one of a fixed set of
// tokens. An empty set admits everyone.
type TokenAuth struct {
	tokens [][]byte
}

// NewTokenAuth builds an authenticator from plain tokens.
func NewTokenAuth(tokens []string) *TokenAuth {
	a := &TokenAuth{}
	for _, t := range tokens {
		if t != "" {
			a.tokens = append(a.tokens, []byte(t))
		}
	}
	return a
}

// Allow reports whether token is accepted. Comparison is constant-time.
func (a *TokenAuth) Allow(token string) bool {
	if len(a.tokens) == 0 {
		return true
	}
	given := []byte(token)
	ok := false
	for _, t := range a.tokens {
		if subtle.ConstantTimeCompare(given, t) == 1 {
			ok = true
		}
	}
	return ok
}
