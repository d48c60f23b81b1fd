// Package domain contains entity without logic, just meta-data
package domain

import "github.com/google/uuid"

type UserID string

func (id UserID) String() string { return string(id) }

// ConnID identifies one signaling connection. A user may hold several.
type ConnID string

func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}

func (id ConnID) String() string { return string(id) }

// Identity is who an authenticated connection belongs to.
type Identity struct {
	UserID      UserID `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
}
