// Package identity resolves request credentials into canonical subjects and
// answers the flat admin allow-list check.
package identity

import (
	"strings"

	"murmur/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionClaims are the verified claims extracted from the external identity
// provider's session token.
type SessionClaims struct {
	UserID        string
	Email         string
	EmailVerified bool
}

// Resolver turns credentials into a (subject_id, subject_type) pair and
// answers admin allow-list membership. It has no notion of roles or scopes.
type Resolver struct {
	jwtSecret   []byte
	issuer      string
	adminEmails map[string]struct{}
}

// NewResolver creates a resolver with the given signing secret, expected
// issuer, and administrator allow-list (lower-cased emails).
func NewResolver(jwtSecret, issuer string, adminEmails map[string]struct{}) *Resolver {
	return &Resolver{
		jwtSecret:   []byte(jwtSecret),
		issuer:      issuer,
		adminEmails: adminEmails,
	}
}

// ParseSession validates a session token and extracts its claims.
// Tokens with the wrong signing method, signature, expiry or issuer are rejected.
func (r *Resolver) ParseSession(tokenString string) (*SessionClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, models.NewUnauthorizedError("Invalid signing method")
		}
		return r.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, models.NewUnauthorizedError("Invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, models.NewUnauthorizedError("Invalid token claims")
	}

	if r.issuer != "" {
		if issuer, issuerOk := claims["iss"].(string); !issuerOk || issuer != r.issuer {
			return nil, models.NewUnauthorizedError("Invalid token issuer")
		}
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, models.NewUnauthorizedError("Invalid subject claim")
	}

	session := &SessionClaims{UserID: sub}
	if email, ok := claims["email"].(string); ok {
		session.Email = email
	}
	if verified, ok := claims["email_verified"].(bool); ok {
		session.EmailVerified = verified
	}
	return session, nil
}

// Resolve produces the canonical subject for a request. An authenticated
// session always wins over a client-supplied anonymous id; the anonymous id is
// accepted verbatim (there is no server-side registration for anonymous
// identities). With neither credential present the request has no identity.
func (r *Resolver) Resolve(claims *SessionClaims, anonID string) (models.Subject, error) {
	if claims != nil && claims.UserID != "" {
		return models.Subject{ID: claims.UserID, Type: models.SubjectAuthenticated}, nil
	}
	anonID = strings.TrimSpace(anonID)
	if anonID != "" {
		return models.Subject{ID: anonID, Type: models.SubjectAnonymous}, nil
	}
	return models.Subject{}, models.NewAuthenticationError("No usable identity presented")
}

// IsAdmin reports whether the session's verified email is on the allow-list.
// Anonymous callers can never be admin.
func (r *Resolver) IsAdmin(claims *SessionClaims) bool {
	if claims == nil || claims.Email == "" || !claims.EmailVerified {
		return false
	}
	_, ok := r.adminEmails[strings.ToLower(claims.Email)]
	return ok
}

// NewAnonID generates a fresh opaque anonymous identifier. Clients normally
// mint their own; this is used by tooling and tests.
func NewAnonID() string {
	return "anon_" + uuid.NewString()
}
