package models

import (
	"time"
)

// Session contains data about an active API session
type Session struct {
	// The session ID (the API key that identifies this session)
	ID string `json:"id"`
	// The ID of the user that has logged-in for this session
	UserID uint `json:"userId"`
	// When will the session expire?
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired checks if the session has already expired
func (s *Session) Expired() bool {
	return s.ExpiresAt.Before(time.Now())
}
