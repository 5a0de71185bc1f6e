package store

import (
	"context"
	"errors"

	"github.com/argumentlab/dialectic/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SourceStore struct {
	db *pgxpool.Pool
}

func NewSourceStore(db *pgxpool.Pool) *SourceStore {
	return &SourceStore{db: db}
}

func (s *SourceStore) GetOrCreate(ctx context.Context, ref string) (*domain.Source, error) {
	src := &domain.Source{Ref: ref}
	err := s.db.QueryRow(ctx,
		`INSERT INTO sources (ref)
		 VALUES ($1)
		 ON CONFLICT (ref) DO UPDATE SET updated_at = sources.updated_at
		 RETURNING id, ref, COALESCE(title, ''), approval_score, reputation_total, reputation_surviving, created_at, updated_at`,
		ref,
	).Scan(&src.ID, &src.Ref, &src.Title, &src.ApprovalScore, &src.ReputationTotal, &src.ReputationSurviving, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (s *SourceStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Source, error) {
	src := &domain.Source{}
	err := s.db.QueryRow(ctx,
		`SELECT id, ref, COALESCE(title, ''), approval_score, reputation_total, reputation_surviving, created_at, updated_at
		 FROM sources WHERE id = $1`,
		id,
	).Scan(&src.ID, &src.Ref, &src.Title, &src.ApprovalScore, &src.ReputationTotal, &src.ReputationSurviving, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return src, nil
}

func (s *SourceStore) SetApproval(ctx context.Context, id uuid.UUID, score float32) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE sources SET approval_score = $1, updated_at = NOW() WHERE id = $2`,
		score, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecomputeReputation rolls the evidence rank of citing FACT claims into
// each source's total and surviving reputation in one set-based update.
func (s *SourceStore) RecomputeReputation(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE sources SET
		   reputation_total = agg.total,
		   reputation_surviving = agg.surviving,
		   updated_at = NOW()
		 FROM (
		   SELECT cited_source_id,
		          COALESCE(SUM(evidence_rank), 0) AS total,
		          COALESCE(SUM(evidence_rank) FILTER (WHERE NOT is_defeated), 0) AS surviving
		   FROM inodes
		   WHERE cited_source_id IS NOT NULL AND epistemic_type = 'FACT'
		   GROUP BY cited_source_id
		 ) agg
		 WHERE sources.id = agg.cited_source_id`,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
