package migration_0

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Dataset struct {
	Id          uuid.UUID `gorm:"type:uuid;primaryKey"`
	StorageId   string    `gorm:"not null"`
	Filename    string    `gorm:"not null"`
	ContentType string
	SizeBytes   int64
	UploadedAt  time.Time `gorm:"index"`
}

type PreprocessRun struct {
	Id        uuid.UUID `gorm:"type:uuid;primaryKey"`
	DatasetId uuid.UUID `gorm:"type:uuid;not null;index:idx_preprocess_runs_dataset_created,priority:1"`
	Dataset   *Dataset  `gorm:"foreignKey:DatasetId"`

	Status string         `gorm:"size:20;not null;index"`
	Params datatypes.JSON `gorm:"type:jsonb;not null"`

	ProcessedStorageId sql.NullString
	ProcessedFilename  sql.NullString
	Summary            datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"index:idx_preprocess_runs_dataset_created,priority:2"`
	UpdatedAt time.Time
}

type Profile struct {
	Id        uuid.UUID     `gorm:"type:uuid;primaryKey"`
	DatasetId uuid.UUID     `gorm:"type:uuid;not null;index:idx_profiles_dataset_created,priority:1"`
	Dataset   *Dataset      `gorm:"foreignKey:DatasetId"`
	RunId     uuid.NullUUID `gorm:"type:uuid"`

	Report datatypes.JSON `gorm:"type:jsonb;not null"`

	CreatedAt time.Time `gorm:"index:idx_profiles_dataset_created,priority:2"`
}

type ProfileSummary struct {
	Id        uuid.UUID `gorm:"type:uuid;primaryKey"`
	DatasetId uuid.UUID `gorm:"type:uuid;not null;index:idx_profile_summaries_dataset_created,priority:1"`
	Dataset   *Dataset  `gorm:"foreignKey:DatasetId"`
	ProfileId uuid.UUID `gorm:"type:uuid;not null"`
	Profile   *Profile  `gorm:"foreignKey:ProfileId"`

	Summary string `gorm:"type:text;not null"`

	CreatedAt time.Time `gorm:"index:idx_profile_summaries_dataset_created,priority:2"`
}

type RunConfig struct {
	Id        uuid.UUID     `gorm:"type:uuid;primaryKey"`
	DatasetId uuid.UUID     `gorm:"type:uuid;not null;index:idx_run_cfgs_dataset_created,priority:1"`
	Dataset   *Dataset      `gorm:"foreignKey:DatasetId"`
	ProfileId uuid.UUID     `gorm:"type:uuid;not null"`
	Profile   *Profile      `gorm:"foreignKey:ProfileId"`
	SummaryId uuid.NullUUID `gorm:"type:uuid"`

	Cfg datatypes.JSON `gorm:"type:jsonb;not null"`

	CreatedAt time.Time `gorm:"index:idx_run_cfgs_dataset_created,priority:2"`
}

func (RunConfig) TableName() string {
	return "run_cfgs"
}

func Migration(db *gorm.DB) error {
	if err := db.AutoMigrate(&Dataset{}, &PreprocessRun{}, &Profile{}, &ProfileSummary{}, &RunConfig{}); err != nil {
		return fmt.Errorf("error creating initial tables: %w", err)
	}
	return nil
}
