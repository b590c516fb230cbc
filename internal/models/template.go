// internal/models/template.go
package models

import "time"

type VariableType string

const (
	VariableText    VariableType = "text"
	VariableNumber  VariableType = "number"
	VariableDate    VariableType = "date"
	VariableImage   VariableType = "image"
	VariableFile    VariableType = "file"
	VariableURL     VariableType = "url"
	VariableBoolean VariableType = "boolean"
)

func (t VariableType) Valid() bool {
	switch t {
	case VariableText, VariableNumber, VariableDate, VariableImage, VariableFile, VariableURL, VariableBoolean:
		return true
	}
	return false
}

type VariableMetadata struct {
	Type         VariableType `json:"type"`
	Description  string       `json:"description,omitempty"`
	Required     bool         `json:"required,omitempty"`
	DefaultValue interface{}  `json:"defaultValue,omitempty"`
}

// Template is message content owned by one broadcast. The newest one is active.
type Template struct {
	ID          string                      `json:"id" db:"id"`
	BroadcastID string                      `json:"broadcastId" db:"broadcast_id"`
	Name        string                      `json:"name" db:"name"`
	Content     string                      `json:"content" db:"content"`
	Variables   map[string]VariableMetadata `json:"variables,omitempty" db:"variables"`
	CreatedAt   time.Time                   `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time                   `json:"updatedAt" db:"updated_at"`
}

// HasMetadata reports whether the template declares variable metadata.
func (t *Template) HasMetadata() bool {
	return t.Variables != nil
}

// NewTemplateInput is the payload for adding a template to a broadcast.
type NewTemplateInput struct {
	Name      string                      `json:"name"`
	Content   string                      `json:"content"`
	Variables map[string]VariableMetadata `json:"variables,omitempty"`
}
