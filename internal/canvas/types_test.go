package canvas

import (
	"errors"
	"testing"
)

func TestNewPositionAcceptsBoundaryValues(t *testing.T) {
	tests := []struct {
		name string
		x    float64
		y    float64
	}{
		{name: "origin", x: 0, y: 0},
		{name: "far-corner", x: 5000, y: 5000},
		{name: "mixed", x: 0, y: 5000},
		{name: "interior", x: 2500.5, y: 17.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			position, err := NewPosition(tt.x, tt.y)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if position.X != tt.x || position.Y != tt.y {
				t.Fatalf("position mismatch: %#v", position)
			}
		})
	}
}

func TestNewPositionRejectsOutOfBoundsValues(t *testing.T) {
	tests := []struct {
		name string
		x    float64
		y    float64
	}{
		{name: "negative-x", x: -0.01, y: 10},
		{name: "negative-y", x: 10, y: -0.01},
		{name: "x-past-edge", x: 5000.01, y: 10},
		{name: "y-past-edge", x: 10, y: 5000.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPosition(tt.x, tt.y); !errors.Is(err, ErrCoordinateOutOfBounds) {
				t.Fatalf("expected out of bounds error, got %v", err)
			}
		})
	}
}

func TestNewUserEmail(t *testing.T) {
	if _, err := NewUserEmail("ada@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, raw := range []string{"", "   ", "no-at-sign", "@leading", "trailing@"} {
		if _, err := NewUserEmail(raw); !errors.Is(err, ErrInvalidUserEmail) {
			t.Fatalf("expected invalid email error for %q, got %v", raw, err)
		}
	}
}

func TestNewWorkspaceIDTrimsAndValidates(t *testing.T) {
	id, err := NewWorkspaceID("  w1  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.String() != "w1" {
		t.Fatalf("expected trimmed id, got %q", id.String())
	}
	if _, err := NewWorkspaceID(""); !errors.Is(err, ErrInvalidWorkspaceID) {
		t.Fatalf("expected invalid workspace error, got %v", err)
	}
}
