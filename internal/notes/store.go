package notes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/corkboardhq/corkboard/internal/canvas"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opStoreNew = "notes.store.new"
	opCreate   = "notes.create"
	opUpdate   = "notes.update"
	opMove     = "notes.move"
	opDelete   = "notes.delete"
	opGet      = "notes.get"
	opList     = "notes.list_by_workspace"
)

// ReactionSweeper removes all reactions attached to a note. It runs
// inside the note-delete transaction so a deleted note never leaves
// orphaned reaction rows behind.
type ReactionSweeper interface {
	RemoveAllForNote(tx *gorm.DB, noteID string) error
}

// StoreConfig describes the dependencies for the note store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Sweeper    ReactionSweeper
	Logger     *zap.Logger
}

// Store owns the authoritative, versioned record for each note. Every
// mutation except delete is guarded by an optimistic concurrency check
// enforced by a conditional write at the storage layer, so the contract
// holds across concurrently running process instances.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	sweeper    ReactionSweeper
	logger     *zap.Logger
}

// NewStore constructs the note store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStorageError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newStorageError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		sweeper:    cfg.Sweeper,
		logger:     logger,
	}, nil
}

// Create validates the request, assigns identity and the initial
// version, and persists the note. No conflict is possible here.
func (s *Store) Create(ctx context.Context, request CreateRequest) (Note, error) {
	if err := validateContent(request.Content); err != nil {
		return Note{}, err
	}
	if _, err := canvas.NewPosition(request.Position.X, request.Position.Y); err != nil {
		return Note{}, err
	}

	imagesJSON, err := encodeImages(request.Images)
	if err != nil {
		s.logError(opCreate, "images_encode_failed", err)
		return Note{}, newStorageError(opCreate, "images_encode_failed", err)
	}

	noteID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Note{}, newStorageError(opCreate, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	note := Note{
		NoteID:           noteID,
		WorkspaceID:      request.WorkspaceID.String(),
		AuthorEmail:      request.AuthorEmail.String(),
		Content:          request.Content,
		PositionX:        request.Position.X,
		PositionY:        request.Position.Y,
		ImagesJSON:       imagesJSON,
		Version:          1,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}

	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		s.logError(opCreate, "note_insert_failed", err,
			zap.String("workspace_id", note.WorkspaceID))
		return Note{}, newStorageError(opCreate, "note_insert_failed", err)
	}

	return note, nil
}

// Update applies the present patch fields if expectedVersion matches
// the stored version, incrementing the version by exactly one. The
// check and the write happen in a single conditional UPDATE keyed on
// (note_id, version); the database is the serialization point, so two
// racing updates yield exactly one success and one VersionConflictError.
func (s *Store) Update(ctx context.Context, noteID NoteID, patch Patch, expectedVersion int64) (Note, error) {
	return s.applyVersioned(ctx, opUpdate, noteID, patch, expectedVersion)
}

// Move is the position-only specialization of Update. Callers emit its
// result as a distinct event kind since moves are high-frequency and
// carry no content.
func (s *Store) Move(ctx context.Context, noteID NoteID, position canvas.Position, expectedVersion int64) (Note, error) {
	return s.applyVersioned(ctx, opMove, noteID, Patch{Position: &position}, expectedVersion)
}

func (s *Store) applyVersioned(ctx context.Context, operation string, noteID NoteID, patch Patch, expectedVersion int64) (Note, error) {
	if expectedVersion < 1 {
		return Note{}, fmt.Errorf("%w: %d", ErrInvalidVersion, expectedVersion)
	}
	if patch.Content == nil && patch.Position == nil && patch.Images == nil {
		return Note{}, ErrEmptyPatch
	}
	if patch.Content != nil {
		if err := validateContent(*patch.Content); err != nil {
			return Note{}, err
		}
	}
	if patch.Position != nil {
		if _, err := canvas.NewPosition(patch.Position.X, patch.Position.Y); err != nil {
			return Note{}, err
		}
	}

	updates := map[string]interface{}{
		"version":      expectedVersion + 1,
		"updated_at_s": s.clock().UTC().Unix(),
	}
	if patch.Content != nil {
		updates["content"] = *patch.Content
	}
	if patch.Position != nil {
		updates["position_x"] = patch.Position.X
		updates["position_y"] = patch.Position.Y
	}
	if patch.Images != nil {
		imagesJSON, err := encodeImages(patch.Images)
		if err != nil {
			s.logError(operation, "images_encode_failed", err, zap.String("note_id", noteID.String()))
			return Note{}, newStorageError(operation, "images_encode_failed", err)
		}
		updates["images_json"] = imagesJSON
	}

	result := s.db.WithContext(ctx).
		Model(&Note{}).
		Where("note_id = ? AND version = ?", noteID.String(), expectedVersion).
		Updates(updates)
	if result.Error != nil {
		s.logError(operation, "conditional_write_failed", result.Error, zap.String("note_id", noteID.String()))
		return Note{}, newStorageError(operation, "conditional_write_failed", result.Error)
	}

	if result.RowsAffected == 0 {
		current, err := s.Get(ctx, noteID)
		if err != nil {
			return Note{}, err
		}
		return Note{}, &VersionConflictError{ExpectedVersion: expectedVersion, Current: current}
	}

	return s.Get(ctx, noteID)
}

// Delete removes the note unconditionally and cascades reaction
// removal in the same transaction.
func (s *Store) Delete(ctx context.Context, noteID NoteID) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("note_id = ?", noteID.String()).Delete(&Note{})
		if result.Error != nil {
			s.logError(opDelete, "note_delete_failed", result.Error, zap.String("note_id", noteID.String()))
			return newStorageError(opDelete, "note_delete_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNoteNotFound
		}
		if s.sweeper != nil {
			if err := s.sweeper.RemoveAllForNote(tx, noteID.String()); err != nil {
				s.logError(opDelete, "reaction_sweep_failed", err, zap.String("note_id", noteID.String()))
				return newStorageError(opDelete, "reaction_sweep_failed", err)
			}
		}
		return nil
	})
	return txErr
}

// Get loads a single note.
func (s *Store) Get(ctx context.Context, noteID NoteID) (Note, error) {
	var note Note
	err := s.db.WithContext(ctx).Where("note_id = ?", noteID.String()).Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Note{}, ErrNoteNotFound
	}
	if err != nil {
		s.logError(opGet, "note_select_failed", err, zap.String("note_id", noteID.String()))
		return Note{}, newStorageError(opGet, "note_select_failed", err)
	}
	return note, nil
}

// ListByWorkspace returns all notes in the workspace, oldest first.
func (s *Store) ListByWorkspace(ctx context.Context, workspaceID canvas.WorkspaceID) ([]Note, error) {
	var notes []Note
	if err := s.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID.String()).
		Order("created_at_s ASC").
		Find(&notes).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("workspace_id", workspaceID.String()))
		return nil, newStorageError(opList, "query_failed", err)
	}
	return notes, nil
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("note store error", attrs...)
}
