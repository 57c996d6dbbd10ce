// Package models contains data structures for the application's domain models.
package models

// SubjectType distinguishes the two disjoint identity spaces.
type SubjectType string

const (
	// SubjectAuthenticated is an identity issued by the external identity provider.
	SubjectAuthenticated SubjectType = "authenticated"
	// SubjectAnonymous is a client-generated opaque identifier.
	SubjectAnonymous SubjectType = "anonymous"
)

// Valid reports whether t is one of the known subject types.
func (t SubjectType) Valid() bool {
	return t == SubjectAuthenticated || t == SubjectAnonymous
}

// Subject identifies an actor. The (ID, Type) pair is the only valid key into
// restrictions and wallets; ID alone is not unique across types.
type Subject struct {
	ID   string      `json:"subject_id"`
	Type SubjectType `json:"subject_type"`
}

// IsZero reports whether the subject is unset.
func (s Subject) IsZero() bool {
	return s.ID == ""
}
