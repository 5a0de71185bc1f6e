package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/argumentlab/dialectic/internal/domain"
	"github.com/argumentlab/dialectic/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultConceptThreshold is the minimum cosine similarity for
	// reusing an existing concept instead of minting a new one.
	DefaultConceptThreshold = 0.85
	ConceptSearchLimit      = 5
)

// ConceptService assigns term occurrences to canonical concepts and flags
// equivocation: a scheme whose premise and conclusion bind the same term
// to different concepts.
type ConceptService struct {
	concepts  domain.ConceptStore
	graph     domain.HypergraphStore
	threshold float32
	logger    *zap.Logger
}

func NewConceptService(concepts domain.ConceptStore, graph domain.HypergraphStore, logger *zap.Logger) *ConceptService {
	return &ConceptService{
		concepts:  concepts,
		graph:     graph,
		threshold: DefaultConceptThreshold,
		logger:    logger,
	}
}

func (s *ConceptService) SetThreshold(t float32) {
	if t > 0 {
		s.threshold = t
	}
}

// ResolveTerms binds each embedded term of an I-Node to the nearest
// existing concept above the similarity threshold, or mints a new concept
// keyed by the term. Bindings are idempotent per (inode, term).
func (s *ConceptService) ResolveTerms(ctx context.Context, inodeID uuid.UUID, terms []domain.AnalysisTerm) error {
	for _, term := range terms {
		normalized := strings.ToLower(strings.TrimSpace(term.Text))
		if normalized == "" || len(term.Embedding) == 0 {
			continue
		}

		matches, err := s.concepts.FindSimilar(ctx, term.Embedding, s.threshold, ConceptSearchLimit)
		if err != nil {
			return fmt.Errorf("find similar concepts for %q: %w", normalized, err)
		}

		var conceptID uuid.UUID
		if len(matches) > 0 {
			conceptID = matches[0].ID
		} else {
			concept := &domain.ConceptNode{Term: normalized, Embedding: term.Embedding}
			if err := s.concepts.Create(ctx, concept); err != nil {
				return fmt.Errorf("mint concept %q: %w", normalized, err)
			}
			conceptID = concept.ID
		}

		if err := s.concepts.BindTerm(ctx, &domain.ConceptBinding{
			INodeID:   inodeID,
			ConceptID: conceptID,
			Term:      normalized,
		}); err != nil {
			return fmt.Errorf("bind term %q: %w", normalized, err)
		}
	}
	return nil
}

// DetectEquivocation records one flag per (scheme, term) where a term
// shared between a premise and the conclusion resolves to two different
// concepts. Running it again for the same scheme never duplicates flags.
func (s *ConceptService) DetectEquivocation(ctx context.Context, schemeID uuid.UUID) ([]domain.EquivocationFlag, error) {
	conclusion, err := s.graph.GetSchemeConclusion(ctx, schemeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	conclusionBindings, err := s.concepts.GetBindings(ctx, conclusion.ID)
	if err != nil {
		return nil, err
	}
	if len(conclusionBindings) == 0 {
		return nil, nil
	}
	byTerm := make(map[string]domain.ConceptBinding, len(conclusionBindings))
	for _, b := range conclusionBindings {
		byTerm[b.Term] = b
	}

	premises, err := s.graph.GetSchemePremises(ctx, schemeID)
	if err != nil {
		return nil, err
	}

	var flags []domain.EquivocationFlag
	seen := make(map[string]bool)
	for _, premise := range premises {
		bindings, err := s.concepts.GetBindings(ctx, premise.ID)
		if err != nil {
			return nil, err
		}
		for _, b := range bindings {
			cb, shared := byTerm[b.Term]
			if !shared || cb.ConceptID == b.ConceptID || seen[b.Term] {
				continue
			}
			flag := domain.EquivocationFlag{
				SchemeID:            schemeID,
				Term:                b.Term,
				PremiseINodeID:      premise.ID,
				ConclusionINodeID:   conclusion.ID,
				PremiseConceptID:    b.ConceptID,
				ConclusionConceptID: cb.ConceptID,
			}
			if err := s.concepts.RecordEquivocation(ctx, &flag); err != nil {
				return nil, fmt.Errorf("record equivocation for %q: %w", b.Term, err)
			}
			seen[b.Term] = true
			flags = append(flags, flag)

			s.logger.Info("equivocation detected",
				zap.String("scheme_id", schemeID.String()),
				zap.String("term", b.Term))
		}
	}
	return flags, nil
}

// FindSimilarConcepts is the exploration/debugging search surface.
func (s *ConceptService) FindSimilarConcepts(ctx context.Context, embedding []float32, threshold float32, limit int) ([]domain.ConceptWithScore, error) {
	if threshold <= 0 {
		threshold = s.threshold
	}
	return s.concepts.FindSimilar(ctx, embedding, threshold, limit)
}
