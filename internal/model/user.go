package model

import "time"

// User is an account that owns journal entries.
//
// A user signs up either with email + password or through GitHub OAuth.
// GitHubID is 0 for password-only accounts; PasswordHash is empty for
// GitHub-only accounts and is never serialized.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	GitHubID     int64     `json:"githubId,omitempty"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
