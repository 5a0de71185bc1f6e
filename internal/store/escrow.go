package store

import (
	"context"
	"fmt"
	"time"

	"github.com/argumentlab/dialectic/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EscrowStore struct {
	db *pgxpool.Pool
}

func NewEscrowStore(db *pgxpool.Pool) *EscrowStore {
	return &EscrowStore{db: db}
}

// Stake moves a scheme's escrow none -> active. The status guard in the
// WHERE clause is what enforces the forward-only lifecycle under
// concurrent stake attempts.
func (s *EscrowStore) Stake(ctx context.Context, schemeID, userID uuid.UUID, amount int64, expiresAt time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE snodes
		 SET escrow_status = 'active',
		     pending_bounty = $1,
		     escrow_expires_at = $2,
		     escrow_staked_by = $3,
		     updated_at = NOW()
		 WHERE id = $4 AND escrow_status = 'none'`,
		amount, expiresAt, userID, schemeID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.getStatus(ctx, schemeID); getErr != nil {
			return getErr
		}
		return ErrInvalidTransition
	}
	return nil
}

func (s *EscrowStore) getStatus(ctx context.Context, schemeID uuid.UUID) (domain.EscrowStatus, error) {
	var status domain.EscrowStatus
	err := s.db.QueryRow(ctx, `SELECT escrow_status FROM snodes WHERE id = $1`, schemeID).Scan(&status)
	if err != nil {
		return "", ErrNotFound
	}
	return status, nil
}

// Resolve moves an active escrow to a terminal status.
func (s *EscrowStore) Resolve(ctx context.Context, schemeID uuid.UUID, status domain.EscrowStatus) error {
	if !domain.EscrowCanTransition(domain.EscrowActive, status) {
		return fmt.Errorf("%w: active -> %s", ErrInvalidTransition, status)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE snodes SET escrow_status = $1, updated_at = NOW()
		 WHERE id = $2 AND escrow_status = 'active'`,
		status, schemeID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (s *EscrowStore) ListActive(ctx context.Context) ([]domain.SNode, error) {
	return s.list(ctx,
		`SELECT `+snodeColumns+` FROM snodes WHERE escrow_status = 'active' ORDER BY escrow_expires_at`)
}

func (s *EscrowStore) ListPending(ctx context.Context, limit, offset int) ([]domain.SNode, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.list(ctx,
		`SELECT `+snodeColumns+` FROM snodes WHERE escrow_status = 'active'
		 ORDER BY escrow_expires_at LIMIT $1 OFFSET $2`,
		limit, offset)
}

func (s *EscrowStore) list(ctx context.Context, query string, args ...any) ([]domain.SNode, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []domain.SNode
	for rows.Next() {
		sn, err := scanSNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escrow snode: %w", err)
		}
		nodes = append(nodes, *sn)
	}
	return nodes, rows.Err()
}
