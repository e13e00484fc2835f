package auth

import (
	"github.com/google/uuid"
)

// Claims is the verified identity carried by a bearer credential.
// A zero RoleID means the role claim was missing or malformed.
type Claims struct {
	Subject string
	RoleID  int
}

// Valid reports whether both the subject and the role claim are present
func (c Claims) Valid() bool {
	return c.Subject != "" && c.RoleID > 0
}

// AccountID parses the subject as an account identifier
func (c Claims) AccountID() (uuid.UUID, bool) {
	if c.Subject == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}
