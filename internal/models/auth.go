package models

import "github.com/golang-jwt/jwt/v5"

// CallerClaims is the verified payload of a bearer token issued by the identity provider.
// The caller id is the token subject.
type CallerClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// CallerID returns the authenticated caller identity.
func (c *CallerClaims) CallerID() string {
	if c == nil {
		return ""
	}
	return c.Subject
}
