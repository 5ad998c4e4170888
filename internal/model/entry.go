// Package model defines the data structures used throughout the application.
package model

import "time"

// Entry is a single journal record owned by exactly one user.
//
// OwnerID and CreatedAt never change after creation. Image holds an encoded
// data URL inline; nil means the entry has no image.
type Entry struct {
	ID           string       `json:"id"`
	OwnerID      string       `json:"ownerId"`
	Title        string       `json:"title"`
	Content      string       `json:"content"`
	Image        *string      `json:"image"`
	Tags         []string     `json:"tags"`
	CustomFields CustomFields `json:"customFields"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Normalize replaces nil collections with empty ones so every persisted entry
// serializes tags as [] and custom fields as {}.
func (e *Entry) Normalize() {
	if e.Tags == nil {
		e.Tags = []string{}
	}
	if e.CustomFields == nil {
		e.CustomFields = CustomFields{}
	}
	if e.Image != nil && *e.Image == "" {
		e.Image = nil
	}
}
