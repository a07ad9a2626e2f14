package models

import "time"

// User is an account allowed to log in
type User struct {
	PK string `json:"-" dynamodbav:"PK"` // USER#{username}
	SK string `json:"-" dynamodbav:"SK"` // METADATA

	EntityType string `json:"-" dynamodbav:"entity_type"`

	UserID       string    `json:"userId" dynamodbav:"user_id"`
	Username     string    `json:"username" dynamodbav:"username"`
	PasswordHash string    `json:"-" dynamodbav:"password_hash"`
	IsAdmin      bool      `json:"isAdmin" dynamodbav:"is_admin"`
	CreatedAt    time.Time `json:"createdAt" dynamodbav:"created_at"`
}

// Session is the server-side record behind a session cookie.
// DidSync is set once a login in this session has completed an import.
type Session struct {
	PK string `json:"-" dynamodbav:"PK"` // SESSION#{session_id}
	SK string `json:"-" dynamodbav:"SK"` // METADATA

	EntityType string `json:"-" dynamodbav:"entity_type"`

	SessionID string    `json:"sessionId" dynamodbav:"session_id"`
	UserID    string    `json:"userId" dynamodbav:"user_id"`
	Username  string    `json:"username" dynamodbav:"username"`
	IsAdmin   bool      `json:"isAdmin" dynamodbav:"is_admin"`
	DidSync   bool      `json:"didSync" dynamodbav:"did_sync"`
	CreatedAt time.Time `json:"createdAt" dynamodbav:"created_at"`
	ExpiresAt time.Time `json:"expiresAt" dynamodbav:"expires_at"`
	TTL       int64     `json:"-" dynamodbav:"ttl"` // DynamoDB TTL attribute
}

// Expired reports whether the session is past its expiry
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// CalculateTTL calculates TTL timestamp for auto-expiring data
func CalculateTTL(expiresAt time.Time) int64 {
	return expiresAt.Unix()
}
