package canvas

import (
	"errors"
	"fmt"
	"strings"
)

const (
	maxIdentifierLength = 190

	// MinCoordinate and MaxCoordinate bound the canvas surface on both axes.
	MinCoordinate = 0.0
	MaxCoordinate = 5000.0
)

// ErrValidation is the base error for all input validation failures.
// Callers can test any rejected input with errors.Is(err, ErrValidation).
var ErrValidation = errors.New("canvas: validation failed")

var (
	// ErrInvalidWorkspaceID indicates that a workspace identifier is empty or exceeds storage bounds.
	ErrInvalidWorkspaceID = fmt.Errorf("invalid workspace id: %w", ErrValidation)
	// ErrInvalidUserEmail indicates that a user email is empty, malformed, or exceeds storage bounds.
	ErrInvalidUserEmail = fmt.Errorf("invalid user email: %w", ErrValidation)
	// ErrCoordinateOutOfBounds indicates a coordinate outside the canvas surface.
	ErrCoordinateOutOfBounds = fmt.Errorf("coordinate out of bounds: %w", ErrValidation)
)

// WorkspaceID represents a validated workspace partition key.
type WorkspaceID string

// NewWorkspaceID validates raw input and returns a WorkspaceID.
func NewWorkspaceID(rawInput string) (WorkspaceID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidWorkspaceID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidWorkspaceID, maxIdentifierLength)
	}
	return WorkspaceID(trimmed), nil
}

// String returns the underlying string identifier.
func (id WorkspaceID) String() string {
	return string(id)
}

// UserEmail represents a validated user identity.
type UserEmail string

// NewUserEmail validates raw input and returns a UserEmail.
func NewUserEmail(rawInput string) (UserEmail, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserEmail)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserEmail, maxIdentifierLength)
	}
	at := strings.Index(trimmed, "@")
	if at <= 0 || at == len(trimmed)-1 {
		return "", fmt.Errorf("%w: %q", ErrInvalidUserEmail, trimmed)
	}
	return UserEmail(trimmed), nil
}

// String returns the underlying email address.
func (e UserEmail) String() string {
	return string(e)
}

// Position is a point on the canvas surface.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewPosition validates both coordinates against the canvas bounds.
func NewPosition(x, y float64) (Position, error) {
	if x < MinCoordinate || x > MaxCoordinate {
		return Position{}, fmt.Errorf("%w: x=%v", ErrCoordinateOutOfBounds, x)
	}
	if y < MinCoordinate || y > MaxCoordinate {
		return Position{}, fmt.Errorf("%w: y=%v", ErrCoordinateOutOfBounds, y)
	}
	return Position{X: x, Y: y}, nil
}
