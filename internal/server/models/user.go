// Package models defines the persistent data structures used by the server.
package models

import "time"

// User is a principal: the identity record behind every session.
// Email is stored case-normalized and is unique, as is Username.
type User struct {
	ID             string
	Username       string
	Email          string
	HashedPassword string
	Avatar         string
	Confirmed      bool
	CreatedAt      time.Time
}
