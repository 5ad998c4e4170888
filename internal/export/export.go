// Package export renders a user's entries as a downloadable document.
//
// Renderers are pure: they take the entries already ordered newest first and
// never touch storage. Images are left out of every format.
package export

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/model"
)

type Format string

const (
	JSON     Format = "json"
	Markdown Format = "markdown"
)

const (
	// isoLayout matches the millisecond ISO-8601 form browsers produce.
	isoLayout = "2006-01-02T15:04:05.000Z07:00"
	// dateLayout is the human readable date on each Markdown entry.
	dateLayout = "Mon Jan 02 2006"
)

// ParseFormat maps the format query parameter to a Format. An empty value
// selects JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", JSON:
		return JSON, nil
	case Markdown:
		return Markdown, nil
	}
	return "", apperror.ValidationFailed("format", "invalid export format")
}

// File is a rendered export ready to be sent as an attachment.
type File struct {
	Filename    string
	ContentType string
	Body        []byte
}

// Render produces the export file for entries in the given format.
func Render(format Format, entries []model.Entry) (*File, error) {
	switch format {
	case JSON:
		body, err := RenderJSON(entries)
		if err != nil {
			return nil, err
		}
		return &File{
			Filename:    "journal-entries.json",
			ContentType: "application/json",
			Body:        body,
		}, nil
	case Markdown:
		return &File{
			Filename:    "journal-entries.md",
			ContentType: "text/markdown; charset=utf-8",
			Body:        []byte(RenderMarkdown(entries)),
		}, nil
	}
	return nil, apperror.ValidationFailed("format", "invalid export format")
}

// jsonEntry is the exported shape: every field of model.Entry except Image,
// with timestamps as text.
type jsonEntry struct {
	ID           string             `json:"id"`
	OwnerID      string             `json:"ownerId"`
	Title        string             `json:"title"`
	Content      string             `json:"content"`
	Tags         []string           `json:"tags"`
	CustomFields model.CustomFields `json:"customFields"`
	CreatedAt    string             `json:"createdAt"`
	UpdatedAt    string             `json:"updatedAt"`
}

// RenderJSON returns entries as a two-space indented JSON array.
func RenderJSON(entries []model.Entry) ([]byte, error) {
	out := make([]jsonEntry, 0, len(entries))
	for _, e := range entries {
		e.Normalize()
		out = append(out, jsonEntry{
			ID:           e.ID,
			OwnerID:      e.OwnerID,
			Title:        e.Title,
			Content:      e.Content,
			Tags:         e.Tags,
			CustomFields: e.CustomFields,
			CreatedAt:    isoTime(e.CreatedAt),
			UpdatedAt:    isoTime(e.UpdatedAt),
		})
	}

	body, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export: encoding json: %w", err)
	}
	return body, nil
}

// RenderMarkdown returns entries as one Markdown document. Custom fields are
// listed in key order so the output is deterministic.
func RenderMarkdown(entries []model.Entry) string {
	var b strings.Builder
	b.WriteString("# My Journal Entries\n\n")

	for _, e := range entries {
		fmt.Fprintf(&b, "## %s\n\n", e.Title)
		fmt.Fprintf(&b, "**Date:** %s\n\n", e.CreatedAt.UTC().Format(dateLayout))

		if len(e.Tags) > 0 {
			fmt.Fprintf(&b, "**Tags:** %s\n\n", strings.Join(e.Tags, ", "))
		}

		if len(e.CustomFields) > 0 {
			b.WriteString("**Custom Fields:**\n")
			for _, k := range e.CustomFields.Keys() {
				fmt.Fprintf(&b, "- %s: %s\n", k, e.CustomFields[k])
			}
			b.WriteString("\n")
		}

		fmt.Fprintf(&b, "%s\n\n---\n\n", e.Content)
	}
	return b.String()
}

func isoTime(t time.Time) string {
	return t.UTC().Format(isoLayout)
}
