package domain

import "strings"

// User caches the identity provider profile of a signed-in user.
type User struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Photo string `json:"photo"`
}

// Validate checks the registry key is present.
func (u User) Validate() error {
	if strings.TrimSpace(u.Email) == "" {
		return Validation("email is required")
	}
	return nil
}

// UpsertResult tells whether a registry upsert inserted a new user.
type UpsertResult struct {
	Created bool
	User    User
}
