package store

import (
	"context"
	"fmt"

	"github.com/argumentlab/dialectic/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

type ClaimStore struct {
	db *pgxpool.Pool
}

func NewClaimStore(db *pgxpool.Pool) *ClaimStore {
	return &ClaimStore{db: db}
}

func (s *ClaimStore) FindSimilar(ctx context.Context, embedding []float32, threshold float32, limit int) ([]domain.ClaimWithScore, error) {
	if limit <= 0 {
		limit = 10
	}
	vec := pgvector.NewVector(embedding)

	rows, err := s.db.Query(ctx,
		`SELECT id, text, adu_count, discussion_count, created_at, updated_at, 1 - (embedding <=> $1) AS score
		 FROM canonical_claims
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		vec, limit*overfetchFactor,
	)
	if err != nil {
		return nil, fmt.Errorf("find similar claims query: %w", err)
	}
	defer rows.Close()

	var results []domain.ClaimWithScore
	for rows.Next() {
		var cs domain.ClaimWithScore
		if err := rows.Scan(&cs.ID, &cs.Text, &cs.ADUCount, &cs.DiscussionCount, &cs.CreatedAt, &cs.UpdatedAt, &cs.Score); err != nil {
			return nil, fmt.Errorf("scan similar claim: %w", err)
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

// CreateWithLink mints a canonical claim seeded with the first claim's
// text and embedding, and records that claim's link, atomically.
func (s *ClaimStore) CreateWithLink(ctx context.Context, c *domain.CanonicalClaim, link *domain.ClaimLink) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var embedding *pgvector.Vector
	if len(c.Embedding) > 0 {
		v := pgvector.NewVector(c.Embedding)
		embedding = &v
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO canonical_claims (text, embedding, adu_count, discussion_count)
		 VALUES ($1, $2, 1, 1)
		 RETURNING id, created_at, updated_at`,
		c.Text, embedding,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert canonical claim: %w", err)
	}

	link.ClaimID = c.ID
	_, err = tx.Exec(ctx,
		`INSERT INTO inode_claims (inode_id, claim_id, similarity)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (inode_id) DO NOTHING`,
		link.INodeID, link.ClaimID, link.Similarity,
	)
	if err != nil {
		return fmt.Errorf("insert claim link: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *ClaimStore) HasLinkFromSource(ctx context.Context, claimID uuid.UUID, sourceRef string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM inode_claims ic
		   JOIN inodes i ON i.id = ic.inode_id
		   WHERE ic.claim_id = $1 AND i.source_ref = $2)`,
		claimID, sourceRef,
	).Scan(&exists)
	return exists, err
}

// LinkAndIncrement records a link and bumps the canonical claim's
// aggregate counts in one transaction. Re-linking the same I-Node is a
// no-op so re-ingestion does not inflate counts.
func (s *ClaimStore) LinkAndIncrement(ctx context.Context, link *domain.ClaimLink, newDiscussion bool) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO inode_claims (inode_id, claim_id, similarity)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (inode_id) DO NOTHING`,
		link.INodeID, link.ClaimID, link.Similarity,
	)
	if err != nil {
		return fmt.Errorf("insert claim link: %w", err)
	}
	if tag.RowsAffected() > 0 {
		discussionBump := 0
		if newDiscussion {
			discussionBump = 1
		}
		_, err = tx.Exec(ctx,
			`UPDATE canonical_claims
			 SET adu_count = adu_count + 1,
			     discussion_count = discussion_count + $2,
			     updated_at = NOW()
			 WHERE id = $1`,
			link.ClaimID, discussionBump,
		)
		if err != nil {
			return fmt.Errorf("bump claim aggregates: %w", err)
		}
	}
	return tx.Commit(ctx)
}
