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

type KarmaStore struct {
	db *pgxpool.Pool
}

func NewKarmaStore(db *pgxpool.Pool) *KarmaStore {
	return &KarmaStore{db: db}
}

// ApplyYields applies per-user increments as atomic counter updates on the
// lifetime profile and upserts the matching daily snapshot rows, all in
// one transaction.
func (s *KarmaStore) ApplyYields(ctx context.Context, day time.Time, yields []domain.KarmaYield) error {
	if len(yields) == 0 {
		return nil
	}
	day = day.UTC().Truncate(24 * time.Hour)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin karma tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, y := range yields {
		var pioneer, builder, critic float64
		switch y.Role {
		case domain.RolePioneer:
			pioneer = y.Amount
		case domain.RoleBuilder:
			builder = y.Amount
		case domain.RoleCritic:
			critic = y.Amount
		default:
			continue
		}
		batch.Queue(
			`INSERT INTO karma_profiles (user_id, pioneer_lifetime, builder_lifetime, critic_lifetime)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (user_id) DO UPDATE SET
			   pioneer_lifetime = karma_profiles.pioneer_lifetime + EXCLUDED.pioneer_lifetime,
			   builder_lifetime = karma_profiles.builder_lifetime + EXCLUDED.builder_lifetime,
			   critic_lifetime = karma_profiles.critic_lifetime + EXCLUDED.critic_lifetime,
			   updated_at = NOW()`,
			y.UserID, pioneer, builder, critic,
		)
		batch.Queue(
			`INSERT INTO karma_daily_yields (user_id, day, pioneer, builder, critic)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (user_id, day) DO UPDATE SET
			   pioneer = karma_daily_yields.pioneer + EXCLUDED.pioneer,
			   builder = karma_daily_yields.builder + EXCLUDED.builder,
			   critic = karma_daily_yields.critic + EXCLUDED.critic`,
			y.UserID, day, pioneer, builder, critic,
		)
	}
	br := tx.SendBatch(ctx, batch)
	if err := br.Close(); err != nil {
		return fmt.Errorf("apply karma yields: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit karma tx: %w", err)
	}
	return nil
}

func (s *KarmaStore) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.KarmaProfile, error) {
	p := &domain.KarmaProfile{}
	err := s.db.QueryRow(ctx,
		`SELECT user_id, pioneer_lifetime, builder_lifetime, critic_lifetime, updated_at
		 FROM karma_profiles WHERE user_id = $1`,
		userID,
	).Scan(&p.UserID, &p.PioneerLifetime, &p.BuilderLifetime, &p.CriticLifetime, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *KarmaStore) GetDailyYields(ctx context.Context, userID uuid.UUID, since time.Time) ([]domain.DailyYield, error) {
	rows, err := s.db.Query(ctx,
		`SELECT user_id, day, pioneer, builder, critic
		 FROM karma_daily_yields
		 WHERE user_id = $1 AND day >= $2
		 ORDER BY day DESC`,
		userID, since.UTC().Truncate(24*time.Hour),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var yields []domain.DailyYield
	for rows.Next() {
		var y domain.DailyYield
		if err := rows.Scan(&y.UserID, &y.Day, &y.Pioneer, &y.Builder, &y.Critic); err != nil {
			return nil, fmt.Errorf("scan daily yield: %w", err)
		}
		yields = append(yields, y)
	}
	return yields, rows.Err()
}
