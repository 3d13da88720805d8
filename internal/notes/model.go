package notes

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/corkboardhq/corkboard/internal/canvas"
)

const (
	maxIdentifierLength = 190
	maxContentLength    = 2000
)

var (
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = fmt.Errorf("invalid note id: %w", canvas.ErrValidation)
	// ErrInvalidContent indicates note content that is empty or exceeds the length bound.
	ErrInvalidContent = fmt.Errorf("invalid note content: %w", canvas.ErrValidation)
	// ErrInvalidVersion indicates a non-positive expected version supplied by a caller.
	ErrInvalidVersion = fmt.Errorf("invalid expected version: %w", canvas.ErrValidation)
	// ErrEmptyPatch indicates an update request in which every patch field is nil.
	ErrEmptyPatch = fmt.Errorf("empty note patch: %w", canvas.ErrValidation)
)

// NoteID represents a validated note identifier.
type NoteID string

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(rawInput string) (NoteID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNoteID, maxIdentifierLength)
	}
	return NoteID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NoteID) String() string {
	return string(id)
}

// Note models a persisted sticky note. Version increases by exactly one
// on every successful mutation and is the optimistic concurrency token.
type Note struct {
	NoteID           string  `gorm:"column:note_id;primaryKey;size:190;not null"`
	WorkspaceID      string  `gorm:"column:workspace_id;size:190;not null;index:idx_notes_workspace"`
	AuthorEmail      string  `gorm:"column:author_email;size:190;not null"`
	Content          string  `gorm:"column:content;type:text;not null"`
	PositionX        float64 `gorm:"column:position_x;not null"`
	PositionY        float64 `gorm:"column:position_y;not null"`
	ImagesJSON       string  `gorm:"column:images_json;type:text;not null;default:''"`
	Version          int64   `gorm:"column:version;not null;default:1"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// Position returns the note's canvas position.
func (n Note) Position() canvas.Position {
	return canvas.Position{X: n.PositionX, Y: n.PositionY}
}

// Images decodes the attached image references. An empty column decodes
// to a nil slice.
func (n Note) Images() []string {
	if n.ImagesJSON == "" {
		return nil
	}
	var images []string
	if err := json.Unmarshal([]byte(n.ImagesJSON), &images); err != nil {
		return nil
	}
	return images
}

// CreateRequest describes the input for a new note.
type CreateRequest struct {
	WorkspaceID canvas.WorkspaceID
	AuthorEmail canvas.UserEmail
	Content     string
	Position    canvas.Position
	Images      []string
}

// Patch describes a partial note update. Nil fields are left
// untouched; a patch with every field nil is rejected, since applying
// it would bump the version without changing anything visible.
type Patch struct {
	Content  *string
	Position *canvas.Position
	Images   []string
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidContent)
	}
	if len(content) > maxContentLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidContent, maxContentLength)
	}
	return nil
}

func encodeImages(images []string) (string, error) {
	if len(images) == 0 {
		return "", nil
	}
	encoded, err := json.Marshal(images)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
