package indexstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/rttmon/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a run does not exist in the index.
var ErrNotFound = errors.New("run not found")

// DefaultListLimit caps ListRuns when no limit is given.
const DefaultListLimit = 100

// RunFilter narrows ListRuns.
type RunFilter struct {
	Device  string
	Outcome string
	Limit   int
}

// Store provides persistence for the run index.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	UpsertRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	ListReportNames(ctx context.Context) ([]string, error)

	ReplaceTestResults(
		ctx context.Context, runID string, results []*TestResult,
	) error
	ListTestResults(ctx context.Context, runID string) ([]TestResult, error)
	ListTestHistory(
		ctx context.Context, testName string, limit int,
	) ([]TestResult, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new index Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "indexstore"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening index database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Run{},
		&TestResult{},
	); err != nil {
		return fmt.Errorf("running index migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).
		Info("Index database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// UpsertRun inserts a run or updates the existing record with the same
// run_id. Zero-valued fields of run do not overwrite stored values.
func (s *store) UpsertRun(ctx context.Context, run *Run) error {
	var existing Run

	result := s.db.WithContext(ctx).
		Where("run_id = ?", run.RunID).
		Assign(*run).
		FirstOrCreate(&existing)
	if result.Error != nil {
		return fmt.Errorf("upserting run: %w", result.Error)
	}

	run.ID = existing.ID

	return nil
}

// GetRun returns the run with the given run_id.
func (s *store) GetRun(ctx context.Context, runID string) (*Run, error) {
	var run Run

	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("getting run: %w", err)
	}

	return &run, nil
}

// ListRuns returns runs matching filter, newest first.
func (s *store) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit)

	if filter.Device != "" {
		query = query.Where("device = ?", filter.Device)
	}

	if filter.Outcome != "" {
		query = query.Where("outcome = ?", filter.Outcome)
	}

	var runs []Run
	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

// ListReportNames returns the report names of all indexed runs.
func (s *store) ListReportNames(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("report_name <> ''").
		Pluck("report_name", &names).Error; err != nil {
		return nil, fmt.Errorf("listing report names: %w", err)
	}

	return names, nil
}

// ReplaceTestResults stores results as the complete set of test results
// for runID in a single transaction.
func (s *store) ReplaceTestResults(
	ctx context.Context, runID string, results []*TestResult,
) error {
	const batchSize = 100

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", runID).
			Delete(&TestResult{}).Error; err != nil {
			return fmt.Errorf("deleting test results for run: %w", err)
		}

		if len(results) == 0 {
			return nil
		}

		for _, r := range results {
			r.RunID = runID
		}

		if err := tx.CreateInBatches(results, batchSize).Error; err != nil {
			return fmt.Errorf("inserting test results: %w", err)
		}

		return nil
	})
}

// ListTestResults returns the test results of a run in first-seen order.
func (s *store) ListTestResults(
	ctx context.Context, runID string,
) ([]TestResult, error) {
	var results []TestResult
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("first_seen ASC, id ASC").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("listing test results: %w", err)
	}

	return results, nil
}

// ListTestHistory returns the most recent results for a test across runs.
func (s *store) ListTestHistory(
	ctx context.Context, testName string, limit int,
) ([]TestResult, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var results []TestResult
	if err := s.db.WithContext(ctx).
		Where("test_name = ?", testName).
		Order("first_seen DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("listing test history: %w", err)
	}

	return results, nil
}
