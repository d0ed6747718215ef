package auth

import (
	"strings"
	"time"
)

// Account is the local representation of a human signed in through the
// external identity provider.
type Account struct {
	ID                string    `json:"id" bson:"id"`
	SubjectID         string    `json:"subjectId,omitempty" bson:"subject_id,omitempty"`
	Email             string    `json:"email" bson:"email"`
	Name              string    `json:"name" bson:"name"`
	Picture           string    `json:"picture" bson:"picture"`
	PreferredUsername string    `json:"preferredUsername,omitempty" bson:"preferred_username,omitempty"`
	CreatedAt         time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" bson:"updated_at"`
}

// Assertion is what the identity provider vouches for after a login.
type Assertion struct {
	SubjectID string
	Email     string
	Name      string
	Picture   string
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (a Assertion) normalized() Assertion {
	a.SubjectID = strings.TrimSpace(a.SubjectID)
	a.Email = NormalizeEmail(a.Email)
	a.Name = strings.TrimSpace(a.Name)
	a.Picture = strings.TrimSpace(a.Picture)
	return a
}

// NormalizeAccount applies the canonical form stores rely on for uniqueness.
func NormalizeAccount(acct *Account) {
	acct.SubjectID = strings.TrimSpace(acct.SubjectID)
	acct.Email = NormalizeEmail(acct.Email)
	acct.PreferredUsername = strings.ToLower(strings.TrimSpace(acct.PreferredUsername))
}
