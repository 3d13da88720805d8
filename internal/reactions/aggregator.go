package reactions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/corkboardhq/corkboard/internal/canvas"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingKinds    = errors.New("at least one reaction kind is required")
	noOpLogger         = zap.NewNop()
)

const (
	opAggregatorNew       = "reactions.aggregator.new"
	opAddOrUpdate         = "reactions.add_or_update"
	opRemove              = "reactions.remove"
	opRemoveByNoteAndUser = "reactions.remove_by_note_and_user"
	opSummarize           = "reactions.summarize"
	opSummarizeWorkspace  = "reactions.summarize_workspace"
)

// AggregatorConfig describes the dependencies for the reaction aggregator.
type AggregatorConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	// Kinds is the configured reaction vocabulary; it is configuration,
	// not a schema-level enumeration, so new kinds need no migration.
	Kinds  []string
	Logger *zap.Logger
}

// Aggregator owns per-note reaction records and computes grouped
// summaries on demand. Writes are last-writer-wins per (note, user);
// no version check is needed since a user's reaction is idempotent.
type Aggregator struct {
	db     *gorm.DB
	clock  func() time.Time
	kinds  map[string]struct{}
	logger *zap.Logger
}

// NewAggregator constructs the reaction aggregator.
func NewAggregator(cfg AggregatorConfig) (*Aggregator, error) {
	if cfg.Database == nil {
		return nil, newStorageError(opAggregatorNew, "missing_database", errMissingDatabase)
	}
	if len(cfg.Kinds) == 0 {
		return nil, newStorageError(opAggregatorNew, "missing_kinds", errMissingKinds)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	kinds := make(map[string]struct{}, len(cfg.Kinds))
	for _, kind := range cfg.Kinds {
		kinds[kind] = struct{}{}
	}

	return &Aggregator{
		db:     cfg.Database,
		clock:  clock,
		kinds:  kinds,
		logger: logger,
	}, nil
}

// AddOrUpdate records the user's reaction to a note, overwriting any
// previous reaction by the same user. The unique index on
// (note_id, user_email) makes the upsert race-safe at the storage layer.
func (a *Aggregator) AddOrUpdate(ctx context.Context, noteID string, workspaceID canvas.WorkspaceID, userEmail canvas.UserEmail, kind string) (Reaction, error) {
	if strings.TrimSpace(noteID) == "" {
		return Reaction{}, fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if _, ok := a.kinds[kind]; !ok {
		return Reaction{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	reactionID, err := uuid.NewV7()
	if err != nil {
		a.logError(opAddOrUpdate, "id_generation_failed", err)
		return Reaction{}, newStorageError(opAddOrUpdate, "id_generation_failed", err)
	}

	now := a.clock().UTC().Unix()
	reaction := Reaction{
		ReactionID:       reactionID.String(),
		NoteID:           noteID,
		UserEmail:        userEmail.String(),
		Kind:             kind,
		WorkspaceID:      workspaceID.String(),
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}

	err = a.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "note_id"}, {Name: "user_email"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"kind":         kind,
			"updated_at_s": now,
		}),
	}).Create(&reaction).Error
	if err != nil {
		a.logError(opAddOrUpdate, "upsert_failed", err, zap.String("note_id", noteID))
		return Reaction{}, newStorageError(opAddOrUpdate, "upsert_failed", err)
	}

	var stored Reaction
	err = a.db.WithContext(ctx).
		Where("note_id = ? AND user_email = ?", noteID, userEmail.String()).
		Take(&stored).Error
	if err != nil {
		a.logError(opAddOrUpdate, "reload_failed", err, zap.String("note_id", noteID))
		return Reaction{}, newStorageError(opAddOrUpdate, "reload_failed", err)
	}
	return stored, nil
}

// Remove deletes a reaction by id and returns the removed row. Only
// the owning user may remove it.
func (a *Aggregator) Remove(ctx context.Context, reactionID string, requestingUser canvas.UserEmail) (Reaction, error) {
	var stored Reaction
	err := a.db.WithContext(ctx).Where("reaction_id = ?", reactionID).Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Reaction{}, ErrReactionNotFound
	}
	if err != nil {
		a.logError(opRemove, "select_failed", err, zap.String("reaction_id", reactionID))
		return Reaction{}, newStorageError(opRemove, "select_failed", err)
	}
	if stored.UserEmail != requestingUser.String() {
		return Reaction{}, ErrNotReactionOwner
	}

	if err := a.db.WithContext(ctx).Where("reaction_id = ?", reactionID).Delete(&Reaction{}).Error; err != nil {
		a.logError(opRemove, "delete_failed", err, zap.String("reaction_id", reactionID))
		return Reaction{}, newStorageError(opRemove, "delete_failed", err)
	}
	return stored, nil
}

// RemoveByNoteAndUser deletes the user's reaction of the given kind on
// the note. A second identical call reports ErrReactionNotFound.
func (a *Aggregator) RemoveByNoteAndUser(ctx context.Context, noteID string, userEmail canvas.UserEmail, kind string) error {
	result := a.db.WithContext(ctx).
		Where("note_id = ? AND user_email = ? AND kind = ?", noteID, userEmail.String(), kind).
		Delete(&Reaction{})
	if result.Error != nil {
		a.logError(opRemoveByNoteAndUser, "delete_failed", result.Error, zap.String("note_id", noteID))
		return newStorageError(opRemoveByNoteAndUser, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrReactionNotFound
	}
	return nil
}

// RemoveAllForNote deletes every reaction attached to the note. It runs
// inside the caller's transaction as the note-delete cascade.
func (a *Aggregator) RemoveAllForNote(tx *gorm.DB, noteID string) error {
	return tx.Where("note_id = ?", noteID).Delete(&Reaction{}).Error
}

// Summarize groups the note's reactions by kind: descending by count,
// ties broken by the kind's first appearance on the note.
func (a *Aggregator) Summarize(ctx context.Context, noteID string, requestingUser canvas.UserEmail) ([]Summary, error) {
	var rows []Reaction
	err := a.db.WithContext(ctx).
		Where("note_id = ?", noteID).
		Order("created_at_s ASC, reaction_id ASC").
		Find(&rows).Error
	if err != nil {
		a.logError(opSummarize, "query_failed", err, zap.String("note_id", noteID))
		return nil, newStorageError(opSummarize, "query_failed", err)
	}
	return groupReactions(rows, requestingUser.String()), nil
}

// SummarizeWorkspace returns summaries for every note in the workspace
// keyed by note id, used to build join snapshots in one query.
func (a *Aggregator) SummarizeWorkspace(ctx context.Context, workspaceID canvas.WorkspaceID, requestingUser canvas.UserEmail) (map[string][]Summary, error) {
	var rows []Reaction
	err := a.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID.String()).
		Order("created_at_s ASC, reaction_id ASC").
		Find(&rows).Error
	if err != nil {
		a.logError(opSummarizeWorkspace, "query_failed", err, zap.String("workspace_id", workspaceID.String()))
		return nil, newStorageError(opSummarizeWorkspace, "query_failed", err)
	}

	byNote := make(map[string][]Reaction)
	for _, row := range rows {
		byNote[row.NoteID] = append(byNote[row.NoteID], row)
	}
	summaries := make(map[string][]Summary, len(byNote))
	for noteID, noteRows := range byNote {
		summaries[noteID] = groupReactions(noteRows, requestingUser.String())
	}
	return summaries, nil
}

func groupReactions(rows []Reaction, requestingUser string) []Summary {
	order := make([]string, 0)
	groups := make(map[string]*Summary)
	for _, row := range rows {
		group, ok := groups[row.Kind]
		if !ok {
			group = &Summary{Kind: row.Kind}
			groups[row.Kind] = group
			order = append(order, row.Kind)
		}
		group.Count++
		group.Users = append(group.Users, row.UserEmail)
		if row.UserEmail == requestingUser {
			group.Reacted = true
		}
	}

	summaries := make([]Summary, 0, len(order))
	for _, kind := range order {
		summaries = append(summaries, *groups[kind])
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].Count > summaries[j].Count
	})
	return summaries
}

func newStorageError(operation, reason string, cause error) error {
	return &StorageError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// StorageError wraps a durable-storage failure with an operation.reason code.
type StorageError struct {
	code string
	err  error
}

func (e *StorageError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StorageError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code for the failure.
func (e *StorageError) Code() string {
	return e.code
}

func (a *Aggregator) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	a.logger.Error("reaction aggregator error", attrs...)
}
