package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/podcast-service/internal/core"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	memorySQLiteDSN   = "file::memory:"
	sectionsRelation  = "Sections"
	sectionsOrderedBy = "sort_order ASC"
)

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown database driver")

// Stats summarises the stored podcasts.
type Stats struct {
	Total            int64      `json:"total"`
	Processed        int64      `json:"processed"`
	Failed           int64      `json:"failed"`
	Pending          int64      `json:"pending"`
	ExpiredPending   int64      `json:"expiredPending"`
	StoredBytes      int64      `json:"storedBytes"`
	NextAutoDeleteAt *time.Time `json:"nextAutoDeleteAt,omitempty"`
}

// Repository is the podcast store.
type Repository struct {
	db *gorm.DB
}

// Open connects to the configured database. SQLite connections are limited to one
// open connection unless maxOpenConns says otherwise.
func Open(driver, dsn string, maxOpenConns int) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	var (
		db  *gorm.DB
		err error
	)

	switch driver {
	case DriverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case DriverSQLite, "":
		if dsn == "" {
			dsn = memorySQLiteDSN
		}

		if maxOpenConns <= 0 {
			maxOpenConns = 1
		}

		db, err = gorm.Open(sqlite.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if maxOpenConns > 0 {
		sqlDB, dbErr := db.DB()
		if dbErr != nil {
			return nil, fmt.Errorf("failed to access connection pool: %w", dbErr)
		}

		sqlDB.SetMaxOpenConns(maxOpenConns)
	}

	return db, nil
}

// New wraps an open database.
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates or updates the podcast tables.
func (r *Repository) Migrate(ctx context.Context) error {
	err := r.db.WithContext(ctx).AutoMigrate(&Podcast{}, &PodcastSection{})
	if err != nil {
		return fmt.Errorf("failed to migrate podcast tables: %w", err)
	}

	return nil
}

// Create inserts a podcast together with its sections.
func (r *Repository) Create(ctx context.Context, podcast *Podcast) error {
	err := r.db.WithContext(ctx).Create(podcast).Error
	if err != nil {
		return fmt.Errorf("failed to create podcast: %w", err)
	}

	return nil
}

// Get loads a podcast and its ordered sections. A missing podcast yields core.ErrNotFound.
func (r *Repository) Get(ctx context.Context, id string) (*Podcast, error) {
	var podcast Podcast

	err := r.db.WithContext(ctx).
		Preload(sectionsRelation, orderSections).
		First(&podcast, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: podcast '%s'", core.ErrNotFound, id)
		}

		return nil, fmt.Errorf("failed to load podcast '%s': %w", id, err)
	}

	return &podcast, nil
}

// Save writes every field of the podcast and its sections.
func (r *Repository) Save(ctx context.Context, podcast *Podcast) error {
	err := r.db.WithContext(ctx).
		Session(&gorm.Session{FullSaveAssociations: true}).
		Save(podcast).Error
	if err != nil {
		return fmt.Errorf("failed to save podcast '%s': %w", podcast.ID, err)
	}

	return nil
}

// ListExpired returns processed podcasts whose retention ended at or before now.
func (r *Repository) ListExpired(ctx context.Context, now time.Time) ([]Podcast, error) {
	var podcasts []Podcast

	err := r.db.WithContext(ctx).
		Preload(sectionsRelation, orderSections).
		Where("is_processed = ? AND auto_delete_at IS NOT NULL AND auto_delete_at <= ?", true, now.UTC()).
		Order("auto_delete_at ASC").
		Find(&podcasts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired podcasts: %w", err)
	}

	return podcasts, nil
}

// ListStaleFailed returns unprocessed podcasts created at or before cutoff.
func (r *Repository) ListStaleFailed(ctx context.Context, cutoff time.Time) ([]Podcast, error) {
	var podcasts []Podcast

	err := r.db.WithContext(ctx).
		Preload(sectionsRelation, orderSections).
		Where("is_processed = ? AND created_at <= ?", false, cutoff.UTC()).
		Order("created_at ASC").
		Find(&podcasts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale podcasts: %w", err)
	}

	return podcasts, nil
}

// Delete removes a podcast and its sections in one transaction. It reports whether
// a podcast row was removed.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	var deleted bool

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sectionErr := tx.Where("podcast_id = ?", id).Delete(&PodcastSection{}).Error
		if sectionErr != nil {
			return fmt.Errorf("failed to delete sections: %w", sectionErr)
		}

		result := tx.Where("id = ?", id).Delete(&Podcast{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete podcast row: %w", result.Error)
		}

		deleted = result.RowsAffected > 0

		return nil
	})
	if err != nil {
		return false, fmt.Errorf("podcast '%s': %w", id, err)
	}

	return deleted, nil
}

// Stats reports podcast counts, stored bytes and the earliest upcoming expiry.
func (r *Repository) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	db := r.db.WithContext(ctx)
	now = now.UTC()

	var stats Stats

	counts := []struct {
		target *int64
		query  string
		args   []any
	}{
		{&stats.Total, "1 = 1", nil},
		{&stats.Processed, "is_processed = ?", []any{true}},
		{&stats.Failed, "is_processed = ? AND status = ?", []any{false, StatusFailed}},
		{&stats.Pending, "is_processed = ? AND status <> ?", []any{false, StatusFailed}},
		{&stats.ExpiredPending, "is_processed = ? AND auto_delete_at <= ?", []any{true, now}},
	}

	for _, count := range counts {
		err := db.Model(&Podcast{}).Where(count.query, count.args...).Count(count.target).Error
		if err != nil {
			return nil, fmt.Errorf("failed to count podcasts: %w", err)
		}
	}

	err := db.Model(&Podcast{}).
		Select("COALESCE(SUM(file_size_bytes), 0)").
		Where("is_processed = ?", true).
		Scan(&stats.StoredBytes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to sum stored bytes: %w", err)
	}

	var next Podcast

	err = db.Select("id", "auto_delete_at").
		Where("is_processed = ? AND auto_delete_at > ?", true, now).
		Order("auto_delete_at ASC").
		First(&next).Error

	switch {
	case err == nil:
		stats.NextAutoDeleteAt = next.AutoDeleteAt
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, fmt.Errorf("failed to find next expiry: %w", err)
	}

	return &stats, nil
}

func orderSections(db *gorm.DB) *gorm.DB {
	return db.Order(sectionsOrderedBy)
}
