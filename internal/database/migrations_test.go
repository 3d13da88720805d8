package database

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/corkboardhq/corkboard/internal/notes"
	"github.com/corkboardhq/corkboard/internal/reactions"
)

func TestApplyMigrationsBackfillsReactionWorkspace(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&notes.Note{}, &reactions.Reaction{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	note := notes.Note{
		NoteID:      "note-1",
		WorkspaceID: "w1",
		AuthorEmail: "ada@example.com",
		Content:     "hello",
		Version:     1,
	}
	if err := database.Create(&note).Error; err != nil {
		testContext.Fatalf("failed to insert note: %v", err)
	}
	reaction := reactions.Reaction{
		ReactionID: "reaction-1",
		NoteID:     "note-1",
		UserEmail:  "bob@example.com",
		Kind:       "heart",
	}
	if err := database.Create(&reaction).Error; err != nil {
		testContext.Fatalf("failed to insert reaction: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored reactions.Reaction
	if err := database.Where("reaction_id = ?", reaction.ReactionID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload reaction: %v", err)
	}
	if stored.WorkspaceID != "w1" {
		testContext.Fatalf("expected workspace backfill, got %q", stored.WorkspaceID)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillReactionWorkspace).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestOpenSQLiteRequiresPath(testContext *testing.T) {
	if _, err := OpenSQLite("", zap.NewNop()); err == nil {
		testContext.Fatal("expected missing path to be rejected")
	}
}
