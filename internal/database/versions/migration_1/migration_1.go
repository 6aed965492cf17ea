package migration_1

import (
	"fmt"
	"time"

	m0 "tabular-backend/internal/database/versions/migration_0"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TrainedModel struct {
	Id        uuid.UUID     `gorm:"type:uuid;primaryKey"`
	DatasetId uuid.UUID     `gorm:"type:uuid;not null;index:idx_trained_models_dataset_created,priority:1"`
	Dataset   *m0.Dataset   `gorm:"foreignKey:DatasetId"`
	RunCfgId  uuid.NullUUID `gorm:"type:uuid"`

	ModelName string         `gorm:"not null"`
	StorageId string         `gorm:"not null"`
	Metrics   datatypes.JSON `gorm:"type:jsonb;not null"`

	CreatedAt time.Time `gorm:"index:idx_trained_models_dataset_created,priority:2"`
}

func Migration(db *gorm.DB) error {
	if err := db.Migrator().CreateTable(&TrainedModel{}); err != nil {
		return fmt.Errorf("error creating trained_models table: %w", err)
	}
	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropTable(&TrainedModel{}); err != nil {
		return fmt.Errorf("error dropping trained_models table: %w", err)
	}
	return nil
}
