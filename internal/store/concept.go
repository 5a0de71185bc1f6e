package store

import (
	"context"
	"fmt"

	"github.com/argumentlab/dialectic/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// overfetchFactor is how many times the requested result count similarity
// queries pull before the threshold filter runs in application code.
const overfetchFactor = 4

type ConceptStore struct {
	db *pgxpool.Pool
}

func NewConceptStore(db *pgxpool.Pool) *ConceptStore {
	return &ConceptStore{db: db}
}

func (s *ConceptStore) Create(ctx context.Context, c *domain.ConceptNode) error {
	var embedding *pgvector.Vector
	if len(c.Embedding) > 0 {
		v := pgvector.NewVector(c.Embedding)
		embedding = &v
	}
	return s.db.QueryRow(ctx,
		`INSERT INTO concepts (term, definition, embedding)
		 VALUES ($1, NULLIF($2, ''), $3)
		 RETURNING id, created_at`,
		c.Term, c.Definition, embedding,
	).Scan(&c.ID, &c.CreatedAt)
}

func (s *ConceptStore) FindSimilar(ctx context.Context, embedding []float32, threshold float32, limit int) ([]domain.ConceptWithScore, error) {
	if limit <= 0 {
		limit = 10
	}
	vec := pgvector.NewVector(embedding)

	rows, err := s.db.Query(ctx,
		`SELECT id, term, COALESCE(definition, ''), created_at, 1 - (embedding <=> $1) AS score
		 FROM concepts
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		vec, limit*overfetchFactor,
	)
	if err != nil {
		return nil, fmt.Errorf("find similar concepts query: %w", err)
	}
	defer rows.Close()

	var results []domain.ConceptWithScore
	for rows.Next() {
		var cs domain.ConceptWithScore
		if err := rows.Scan(&cs.ID, &cs.Term, &cs.Definition, &cs.CreatedAt, &cs.Score); err != nil {
			return nil, fmt.Errorf("scan similar concept: %w", err)
		}
		if cs.Score < threshold {
			continue
		}
		results = append(results, cs)
		if len(results) >= limit {
			break
		}
	}
	return results, rows.Err()
}

func (s *ConceptStore) BindTerm(ctx context.Context, b *domain.ConceptBinding) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO inode_concepts (inode_id, concept_id, term)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (inode_id, term) DO NOTHING`,
		b.INodeID, b.ConceptID, b.Term,
	)
	return err
}

func (s *ConceptStore) GetBindings(ctx context.Context, inodeID uuid.UUID) ([]domain.ConceptBinding, error) {
	rows, err := s.db.Query(ctx,
		`SELECT inode_id, concept_id, term, created_at
		 FROM inode_concepts WHERE inode_id = $1`,
		inodeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bindings []domain.ConceptBinding
	for rows.Next() {
		var b domain.ConceptBinding
		if err := rows.Scan(&b.INodeID, &b.ConceptID, &b.Term, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

func (s *ConceptStore) RecordEquivocation(ctx context.Context, f *domain.EquivocationFlag) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO equivocation_flags (scheme_id, term, premise_inode_id, conclusion_inode_id, premise_concept_id, conclusion_concept_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (scheme_id, term) DO NOTHING`,
		f.SchemeID, f.Term, f.PremiseINodeID, f.ConclusionINodeID, f.PremiseConceptID, f.ConclusionConceptID,
	)
	return err
}

func (s *ConceptStore) ListEquivocations(ctx context.Context, schemeID uuid.UUID) ([]domain.EquivocationFlag, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, scheme_id, term, premise_inode_id, conclusion_inode_id, premise_concept_id, conclusion_concept_id, created_at
		 FROM equivocation_flags WHERE scheme_id = $1`,
		schemeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flags []domain.EquivocationFlag
	for rows.Next() {
		var f domain.EquivocationFlag
		if err := rows.Scan(&f.ID, &f.SchemeID, &f.Term, &f.PremiseINodeID, &f.ConclusionINodeID, &f.PremiseConceptID, &f.ConclusionConceptID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan equivocation flag: %w", err)
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}
