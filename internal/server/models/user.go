// Package models defines the persisted entities owned by the identity store.
package models

import "time"

// User is an account holder. Users are created once at sign-up and never
// hard-deleted; password, name, and email changes mutate the row in place.
type User struct {
	ID           []byte
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
}
