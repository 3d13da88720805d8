package reactions

import (
	"errors"
	"fmt"

	"github.com/corkboardhq/corkboard/internal/canvas"
)

var (
	// ErrInvalidKind indicates a reaction kind outside the configured set.
	ErrInvalidKind = fmt.Errorf("invalid reaction kind: %w", canvas.ErrValidation)
	// ErrInvalidNoteID indicates an empty note reference.
	ErrInvalidNoteID = fmt.Errorf("invalid note id: %w", canvas.ErrValidation)
	// ErrReactionNotFound indicates the referenced reaction does not exist.
	ErrReactionNotFound = errors.New("reactions: reaction not found")
	// ErrNotReactionOwner indicates a removal attempt by a user who does not own the reaction.
	ErrNotReactionOwner = errors.New("reactions: requesting user does not own this reaction")
)

// Reaction models a single user's reaction to a note. The unique index
// on (note_id, user_email) enforces the one-reaction-per-user contract
// at write time.
type Reaction struct {
	ReactionID       string `gorm:"column:reaction_id;primaryKey;size:190;not null"`
	NoteID           string `gorm:"column:note_id;size:190;not null;uniqueIndex:idx_reactions_note_user,priority:1"`
	UserEmail        string `gorm:"column:user_email;size:190;not null;uniqueIndex:idx_reactions_note_user,priority:2"`
	Kind             string `gorm:"column:kind;size:32;not null"`
	WorkspaceID      string `gorm:"column:workspace_id;size:190;not null;index:idx_reactions_workspace"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Reaction) TableName() string {
	return "reactions"
}

// Summary is the derived, grouped view of a note's reactions for one
// kind. Users appear in the order they reacted.
type Summary struct {
	Kind    string   `json:"kind"`
	Count   int      `json:"count"`
	Users   []string `json:"users"`
	Reacted bool     `json:"reacted"`
}
