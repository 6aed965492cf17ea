package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"tabular-backend/internal/core/utils"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("record not found")

// monotonicClock never returns the same instant twice, so ordering by
// created_at breaks ties in insertion order. Microsecond steps match the
// precision postgres keeps for timestamps.
type monotonicClock struct {
	mu   sync.Mutex
	last time.Time
}

func (c *monotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(c.last) {
		now = c.last.Add(time.Microsecond)
	}
	c.last = now
	return now
}

type Store struct {
	db    *gorm.DB
	clock *monotonicClock
	locks *utils.MutexMap[uuid.UUID]
}

func NewStore(db *gorm.DB) *Store {
	clock := &monotonicClock{}
	return &Store{
		db:    db.Session(&gorm.Session{NowFunc: clock.Now}),
		clock: clock,
		locks: utils.NewMutexMap[uuid.UUID](),
	}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Now() time.Time {
	return s.clock.Now()
}

// Insert creates a row. Ids and creation times are filled by the BeforeCreate
// hooks when left empty.
func (s *Store) Insert(ctx context.Context, row any) error {
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("error inserting %T: %w", row, err)
	}
	return nil
}

func Get[T any](ctx context.Context, s *Store, id uuid.UUID) (T, error) {
	var row T
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return row, fmt.Errorf("%w: %T %s", ErrNotFound, row, id)
		}
		return row, fmt.Errorf("error loading %T %s: %w", row, id, err)
	}
	return row, nil
}

func ListByDataset[T any](ctx context.Context, s *Store, datasetId uuid.UUID) ([]T, error) {
	var rows []T
	if err := s.db.WithContext(ctx).Where("dataset_id = ?", datasetId).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error listing %T for dataset %s: %w", rows, datasetId, err)
	}
	return rows, nil
}

// LatestByDataset returns the most recently created row for the dataset, or
// nil if there is none.
func LatestByDataset[T any](ctx context.Context, s *Store, datasetId uuid.UUID) (*T, error) {
	return latestWhere[T](ctx, s, s.db.Where("dataset_id = ?", datasetId))
}

func latestWhere[T any](ctx context.Context, s *Store, query *gorm.DB) (*T, error) {
	var rows []T
	if err := query.WithContext(ctx).Order("created_at DESC").Limit(1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error loading latest %T: %w", rows, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Patch merges fields onto an existing row. Patches to the same id are applied
// one at a time; updated_at is stamped for tables that carry it.
func Patch[T any](ctx context.Context, s *Store, id uuid.UUID, fields map[string]any) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	var model T
	result := s.db.WithContext(ctx).Model(&model).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("error patching %T %s: %w", model, id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %T %s", ErrNotFound, model, id)
	}
	return nil
}

func ListDatasets(ctx context.Context, s *Store) ([]Dataset, error) {
	var datasets []Dataset
	if err := s.db.WithContext(ctx).Order("uploaded_at DESC").Find(&datasets).Error; err != nil {
		return nil, fmt.Errorf("error listing datasets: %w", err)
	}
	return datasets, nil
}

func (d *Dataset) BeforeCreate(tx *gorm.DB) error {
	if d.Id == uuid.Nil {
		d.Id = uuid.New()
	}
	if d.UploadedAt.IsZero() {
		d.UploadedAt = tx.NowFunc()
	}
	return nil
}

func (r *PreprocessRun) BeforeCreate(tx *gorm.DB) error {
	if r.Id == uuid.Nil {
		r.Id = uuid.New()
	}
	return nil
}

func (p *Profile) BeforeCreate(tx *gorm.DB) error {
	if p.Id == uuid.Nil {
		p.Id = uuid.New()
	}
	return nil
}

func (p *ProfileSummary) BeforeCreate(tx *gorm.DB) error {
	if p.Id == uuid.Nil {
		p.Id = uuid.New()
	}
	return nil
}

func (c *RunConfig) BeforeCreate(tx *gorm.DB) error {
	if c.Id == uuid.Nil {
		c.Id = uuid.New()
	}
	return nil
}

func (m *TrainedModel) BeforeCreate(tx *gorm.DB) error {
	if m.Id == uuid.Nil {
		m.Id = uuid.New()
	}
	return nil
}
