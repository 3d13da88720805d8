package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillReactionWorkspace = "2026-07-21_backfill_reaction_workspace"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillReactionWorkspace, apply: backfillReactionWorkspace},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillReactionWorkspace fills the reaction workspace column from the
// parent note for rows written before the column existed.
func backfillReactionWorkspace(db *gorm.DB) error {
	return db.Exec(`UPDATE reactions
		SET workspace_id = (SELECT workspace_id FROM notes WHERE notes.note_id = reactions.note_id)
		WHERE workspace_id = ''
		AND EXISTS (SELECT 1 FROM notes WHERE notes.note_id = reactions.note_id)`).Error
}
