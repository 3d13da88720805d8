package reactions

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/corkboardhq/corkboard/internal/canvas"
)

var testKinds = []string{"thumbs-up", "heart", "fire"}

func TestAddOrUpdateKeepsOneRowPerUser(t *testing.T) {
	aggregator, db := newTestAggregator(t)
	ctx := context.Background()

	first, err := aggregator.AddOrUpdate(ctx, "note-1", mustWorkspaceID(t, "w1"), mustUserEmail(t, "ada@example.com"), "thumbs-up")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := aggregator.AddOrUpdate(ctx, "note-1", mustWorkspaceID(t, "w1"), mustUserEmail(t, "ada@example.com"), "heart")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if second.ReactionID != first.ReactionID {
		t.Fatalf("expected the original row to be updated in place, got %s vs %s", second.ReactionID, first.ReactionID)
	}
	if second.Kind != "heart" {
		t.Fatalf("expected latest kind to win, got %q", second.Kind)
	}

	var count int64
	if err := db.Model(&Reaction{}).Where("note_id = ?", "note-1").Count(&count).Error; err != nil {
		t.Fatalf("failed to count reactions: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one stored reaction, got %d", count)
	}
}

func TestAddOrUpdateRejectsUnknownKind(t *testing.T) {
	aggregator, _ := newTestAggregator(t)

	_, err := aggregator.AddOrUpdate(context.Background(), "note-1", mustWorkspaceID(t, "w1"), mustUserEmail(t, "ada@example.com"), "sparkles")
	if !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("expected invalid kind error, got %v", err)
	}
	if !errors.Is(err, canvas.ErrValidation) {
		t.Fatalf("invalid kind should be a validation error, got %v", err)
	}
}

func TestRemoveEnforcesOwnership(t *testing.T) {
	aggregator, _ := newTestAggregator(t)
	ctx := context.Background()

	reaction, err := aggregator.AddOrUpdate(ctx, "note-1", mustWorkspaceID(t, "w1"), mustUserEmail(t, "ada@example.com"), "thumbs-up")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := aggregator.Remove(ctx, reaction.ReactionID, mustUserEmail(t, "eve@example.com")); !errors.Is(err, ErrNotReactionOwner) {
		t.Fatalf("expected ownership error, got %v", err)
	}
	removed, err := aggregator.Remove(ctx, reaction.ReactionID, mustUserEmail(t, "ada@example.com"))
	if err != nil {
		t.Fatalf("owner removal should succeed: %v", err)
	}
	if removed.NoteID != "note-1" {
		t.Fatalf("expected removed row to be returned, got %+v", removed)
	}
	if _, err := aggregator.Remove(ctx, reaction.ReactionID, mustUserEmail(t, "ada@example.com")); !errors.Is(err, ErrReactionNotFound) {
		t.Fatalf("expected not found after removal, got %v", err)
	}
}

func TestRemoveByNoteAndUserIsNotIdempotentlySilent(t *testing.T) {
	aggregator, _ := newTestAggregator(t)
	ctx := context.Background()

	if _, err := aggregator.AddOrUpdate(ctx, "note-1", mustWorkspaceID(t, "w1"), mustUserEmail(t, "ada@example.com"), "fire"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := aggregator.RemoveByNoteAndUser(ctx, "note-1", mustUserEmail(t, "ada@example.com"), "fire"); err != nil {
		t.Fatalf("first removal should succeed: %v", err)
	}
	if err := aggregator.RemoveByNoteAndUser(ctx, "note-1", mustUserEmail(t, "ada@example.com"), "fire"); !errors.Is(err, ErrReactionNotFound) {
		t.Fatalf("second removal should report not found, got %v", err)
	}
}

func TestSummarizeGroupsAndOrders(t *testing.T) {
	aggregator, _ := newTestAggregator(t)
	ctx := context.Background()
	workspace := mustWorkspaceID(t, "w1")

	// fire arrives first but ends up outnumbered by thumbs-up.
	reactions := []struct {
		user string
		kind string
	}{
		{user: "ada@example.com", kind: "fire"},
		{user: "bob@example.com", kind: "thumbs-up"},
		{user: "carol@example.com", kind: "thumbs-up"},
		{user: "dave@example.com", kind: "heart"},
	}
	for _, r := range reactions {
		if _, err := aggregator.AddOrUpdate(ctx, "note-1", workspace, mustUserEmail(t, r.user), r.kind); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	summaries, err := aggregator.Summarize(ctx, "note-1", mustUserEmail(t, "carol@example.com"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(summaries))
	}

	if summaries[0].Kind != "thumbs-up" || summaries[0].Count != 2 {
		t.Fatalf("expected thumbs-up group first, got %#v", summaries[0])
	}
	if summaries[1].Kind != "fire" || summaries[2].Kind != "heart" {
		t.Fatalf("count ties should keep first-seen order, got %#v", summaries)
	}
	if !summaries[0].Reacted {
		t.Fatal("requesting user should be flagged in the thumbs-up group")
	}
	if summaries[1].Reacted || summaries[2].Reacted {
		t.Fatal("requesting user should not be flagged in other groups")
	}
	if len(summaries[0].Users) != 2 || summaries[0].Users[0] != "bob@example.com" {
		t.Fatalf("users should list reaction order, got %#v", summaries[0].Users)
	}
}

func TestSummarizeWorkspaceKeysByNote(t *testing.T) {
	aggregator, _ := newTestAggregator(t)
	ctx := context.Background()
	workspace := mustWorkspaceID(t, "w1")

	if _, err := aggregator.AddOrUpdate(ctx, "note-1", workspace, mustUserEmail(t, "ada@example.com"), "heart"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := aggregator.AddOrUpdate(ctx, "note-2", workspace, mustUserEmail(t, "bob@example.com"), "fire"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := aggregator.AddOrUpdate(ctx, "note-3", mustWorkspaceID(t, "w2"), mustUserEmail(t, "bob@example.com"), "fire"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	summaries, err := aggregator.SummarizeWorkspace(ctx, workspace, mustUserEmail(t, "ada@example.com"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected summaries for 2 notes, got %d", len(summaries))
	}
	if !summaries["note-1"][0].Reacted {
		t.Fatal("expected requesting user flagged on note-1")
	}
	if _, ok := summaries["note-3"]; ok {
		t.Fatal("workspace summary must not leak other workspaces")
	}
}

func TestRemoveAllForNoteCascades(t *testing.T) {
	aggregator, db := newTestAggregator(t)
	ctx := context.Background()
	workspace := mustWorkspaceID(t, "w1")

	for _, user := range []string{"ada@example.com", "bob@example.com"} {
		if _, err := aggregator.AddOrUpdate(ctx, "note-1", workspace, mustUserEmail(t, user), "heart"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if _, err := aggregator.AddOrUpdate(ctx, "note-2", workspace, mustUserEmail(t, "ada@example.com"), "fire"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := aggregator.RemoveAllForNote(db, "note-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var remaining []Reaction
	if err := db.Find(&remaining).Error; err != nil {
		t.Fatalf("failed to load reactions: %v", err)
	}
	if len(remaining) != 1 || remaining[0].NoteID != "note-2" {
		t.Fatalf("expected only note-2 reactions to survive, got %#v", remaining)
	}
}

func newTestAggregator(t *testing.T) (*Aggregator, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:corkboard_reactions_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Reaction{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clockSeconds := int64(1700000600)
	aggregator, err := NewAggregator(AggregatorConfig{
		Database: db,
		Clock: func() time.Time {
			clockSeconds++
			return time.Unix(clockSeconds, 0).UTC()
		},
		Kinds: testKinds,
	})
	if err != nil {
		t.Fatalf("failed to construct aggregator: %v", err)
	}

	return aggregator, db
}

func mustWorkspaceID(t *testing.T, value string) canvas.WorkspaceID {
	t.Helper()
	id, err := canvas.NewWorkspaceID(value)
	if err != nil {
		t.Fatalf("unexpected workspace id error: %v", err)
	}
	return id
}

func mustUserEmail(t *testing.T, value string) canvas.UserEmail {
	t.Helper()
	email, err := canvas.NewUserEmail(value)
	if err != nil {
		t.Fatalf("unexpected user email error: %v", err)
	}
	return email
}
