// Package reportstore archives Scoring Engine reports to postgres so a
// run's score can be queried after the process that produced it has
// exited (SPEC_FULL.md §10.3).
//
// Grounded on the teacher's internal/service/tenant_service.go
// (errors.Is(err, gorm.ErrRecordNotFound) translated to a package
// sentinel, Create/Get/List built over a *gorm.DB) rather than the
// teacher's sqlx+pgx repositories: DESIGN.md records the decision to
// keep only the teacher's gorm path for postgres in this repository.
package reportstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sigridjineth/hlbench/internal/scoring"
)

// ErrNotFound is returned by Get when no report matches the given id.
var ErrNotFound = errors.New("reportstore: report not found")

// ScoreReport is the gorm model backing the score_reports table.
type ScoreReport struct {
	ID         string `gorm:"primaryKey"`
	RunDir     string
	FinalScore float64
	Base       float64
	Bonus      float64
	Penalty    float64
	ReportJSON []byte `gorm:"column:report;type:jsonb"`
	CreatedAt  time.Time
}

func (ScoreReport) TableName() string { return "score_reports" }

// Report unmarshals the archived report payload.
func (r *ScoreReport) Report() (scoring.Report, error) {
	var rep scoring.Report
	err := json.Unmarshal(r.ReportJSON, &rep)
	return rep, err
}

// Store archives scoring.Reports in postgres.
type Store struct {
	db *gorm.DB
}

// New dials dsn and migrates the score_reports table.
func New(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("reportstore: connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("reportstore: unwrap sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&ScoreReport{}); err != nil {
		return nil, fmt.Errorf("reportstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Insert archives report under a freshly generated id and returns it.
func (s *Store) Insert(ctx context.Context, runDir string, report scoring.Report) (string, error) {
	payload, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("reportstore: marshal report: %w", err)
	}
	rec := ScoreReport{
		ID:         uuid.New().String(),
		RunDir:     runDir,
		FinalScore: report.FinalScore,
		Base:       report.Base,
		Bonus:      report.Bonus,
		Penalty:    report.Penalty,
		ReportJSON: payload,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return "", fmt.Errorf("reportstore: insert: %w", err)
	}
	return rec.ID, nil
}

// Get fetches one archived report by id.
func (s *Store) Get(ctx context.Context, id string) (*ScoreReport, error) {
	var rec ScoreReport
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reportstore: get: %w", err)
	}
	return &rec, nil
}

// List returns the most recent reports, newest first, bounded by limit.
func (s *Store) List(ctx context.Context, limit int) ([]*ScoreReport, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var records []*ScoreReport
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("reportstore: list: %w", err)
	}
	return records, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
