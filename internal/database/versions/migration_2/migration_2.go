package migration_2

import (
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Runs still open when the column is added get this long before the sweeper
// may fail them.
const backfillGrace = 24 * time.Hour

type PreprocessRun struct {
	Deadline sql.NullTime
}

func Migration(db *gorm.DB) error {
	if err := db.Migrator().AddColumn(&PreprocessRun{}, "deadline"); err != nil {
		return fmt.Errorf("error adding Deadline column: %w", err)
	}

	if err := db.Model(&PreprocessRun{}).
		Where("status IN ? AND deadline IS NULL", []string{"pending", "running"}).
		Update("deadline", time.Now().UTC().Add(backfillGrace)).Error; err != nil {
		return fmt.Errorf("error backfilling Deadline for open runs: %w", err)
	}

	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropColumn(&PreprocessRun{}, "deadline"); err != nil {
		return fmt.Errorf("error dropping Deadline column: %w", err)
	}
	return nil
}
