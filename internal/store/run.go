package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/argumentlab/dialectic/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RunStore struct {
	db *pgxpool.Pool
}

func NewRunStore(db *pgxpool.Pool) *RunStore {
	return &RunStore{db: db}
}

func (s *RunStore) Create(ctx context.Context, r *domain.AnalysisRun) error {
	if r.Status == "" {
		r.Status = domain.RunPending
	}
	return s.db.QueryRow(ctx,
		`INSERT INTO analysis_runs (source_ref, content_hash, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (source_ref, content_hash) DO UPDATE SET updated_at = analysis_runs.updated_at
		 RETURNING id, status, created_at, updated_at`,
		r.SourceRef, r.ContentHash, r.Status,
	).Scan(&r.ID, &r.Status, &r.CreatedAt, &r.UpdatedAt)
}

func (s *RunStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.AnalysisRun, error) {
	r := &domain.AnalysisRun{}
	err := s.db.QueryRow(ctx,
		`SELECT id, source_ref, content_hash, status, COALESCE(error, ''), created_at, updated_at
		 FROM analysis_runs WHERE id = $1`,
		id,
	).Scan(&r.ID, &r.SourceRef, &r.ContentHash, &r.Status, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

func (s *RunStore) GetBySourceAndHash(ctx context.Context, sourceRef, contentHash string) (*domain.AnalysisRun, error) {
	r := &domain.AnalysisRun{}
	err := s.db.QueryRow(ctx,
		`SELECT id, source_ref, content_hash, status, COALESCE(error, ''), created_at, updated_at
		 FROM analysis_runs WHERE source_ref = $1 AND content_hash = $2`,
		sourceRef, contentHash,
	).Scan(&r.ID, &r.SourceRef, &r.ContentHash, &r.Status, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

// ClaimForProcessing moves a run into processing only if no other worker
// holds it. The status guard makes the claim atomic; losing it returns
// ErrInvalidTransition.
func (s *RunStore) ClaimForProcessing(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE analysis_runs SET status = 'processing', error = NULL, updated_at = NOW()
		 WHERE id = $1 AND status <> 'processing'`,
		id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

func (s *RunStore) SetStatus(ctx context.Context, id uuid.UUID, status domain.RunStatus, errMsg string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE analysis_runs SET status = $1, error = NULLIF($2, ''), updated_at = NOW() WHERE id = $3`,
		status, errMsg, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RunStore) ReclaimStale(ctx context.Context, window time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE analysis_runs
		 SET status = 'pending', error = NULL, updated_at = NOW()
		 WHERE status = 'processing' AND updated_at < NOW() - ($1 || ' seconds')::interval`,
		fmt.Sprintf("%d", int(window.Seconds())),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
