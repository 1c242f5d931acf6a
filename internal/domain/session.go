// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"time"
)

const (
	MaxIDLen          = 64
	MaxDisplayNameLen = 64
)

var (
	ErrEmptyID            = errors.New("id empty")
	ErrIDTooLong          = errors.New("id too long")
	ErrDisplayNameTooLong = errors.New("display name too long")
)

// UserRef is the identity handed over by the external sign-in path.
// All fields are optional; a session without one is anonymous.
type UserRef struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Producer is one outbound media stream announced by a session.
type Producer struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// Session is one participant's state within a room. Ghost sessions
// are hidden observers: counted, never announced to peers.
type Session struct {
	ID           string
	User         *UserRef
	DisplayName  string
	IsHost       bool
	IsGhost      bool
	ConnectionID string
	JoinedAt     time.Time
	Producers    []Producer
}

// NewSession is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewSession(id, displayName string) (*Session, error) {
	if len(id) == 0 {
		return nil, ErrEmptyID
	}
	if len(id) > MaxIDLen {
		return nil, ErrIDTooLong
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	return &Session{ID: id, DisplayName: displayName, JoinedAt: time.Now()}, nil
}
