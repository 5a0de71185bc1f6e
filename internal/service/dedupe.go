package service

import (
	"context"
	"fmt"

	"github.com/argumentlab/dialectic/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultClaimThreshold is the minimum similarity for mapping a new
	// claim onto an existing canonical claim.
	DefaultClaimThreshold = 0.75
	ClaimSearchLimit      = 5
)

// DedupeService clusters semantically identical claims onto canonical
// representatives, so the same claim is not re-litigated across
// discussions.
type DedupeService struct {
	claims    domain.ClaimStore
	threshold float32
	logger    *zap.Logger
}

func NewDedupeService(claims domain.ClaimStore, logger *zap.Logger) *DedupeService {
	return &DedupeService{
		claims:    claims,
		threshold: DefaultClaimThreshold,
		logger:    logger,
	}
}

func (s *DedupeService) SetThreshold(t float32) {
	if t > 0 {
		s.threshold = t
	}
}

// Canonicalize links the I-Node to the best-matching canonical claim, or
// mints a new one seeded with the claim's text and embedding.
func (s *DedupeService) Canonicalize(ctx context.Context, inodeID uuid.UUID, sourceRef, text string, embedding []float32) error {
	if len(embedding) == 0 {
		return nil
	}

	matches, err := s.claims.FindSimilar(ctx, embedding, s.threshold, ClaimSearchLimit)
	if err != nil {
		return fmt.Errorf("find similar claims: %w", err)
	}

	if len(matches) == 0 {
		claim := &domain.CanonicalClaim{Text: text, Embedding: embedding}
		link := &domain.ClaimLink{INodeID: inodeID, Similarity: 1.0}
		if err := s.claims.CreateWithLink(ctx, claim, link); err != nil {
			return fmt.Errorf("mint canonical claim: %w", err)
		}
		return nil
	}

	top := matches[0]
	alreadyDiscussed, err := s.claims.HasLinkFromSource(ctx, top.ID, sourceRef)
	if err != nil {
		return fmt.Errorf("check claim discussion: %w", err)
	}
	link := &domain.ClaimLink{INodeID: inodeID, ClaimID: top.ID, Similarity: top.Score}
	if err := s.claims.LinkAndIncrement(ctx, link, !alreadyDiscussed); err != nil {
		return fmt.Errorf("link canonical claim: %w", err)
	}

	s.logger.Debug("claim deduplicated",
		zap.String("inode_id", inodeID.String()),
		zap.String("claim_id", top.ID.String()),
		zap.Float32("similarity", top.Score))
	return nil
}
