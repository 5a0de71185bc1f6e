package service

import (
	"context"
	"errors"
	"time"

	"github.com/argumentlab/dialectic/internal/domain"
	"github.com/argumentlab/dialectic/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// Yield rates per karma role, scaled by current evidence rank.
	PioneerYieldRate = 1.0
	BuilderYieldRate = 0.5
	CriticYieldRate  = 0.75
)

// SettlementResult summarizes one economic settlement pass.
type SettlementResult struct {
	Paid           int   `json:"paid"`
	Stolen         int   `json:"stolen"`
	Languished     int   `json:"languished"`
	YieldsApplied  int   `json:"yields_applied"`
	SourcesUpdated int64 `json:"sources_updated"`
}

// SettlementService resolves staked bounties against the propagation flip
// diff and computes per-user karma yields. It must run strictly after
// propagation for the same cycle.
type SettlementService struct {
	graph    domain.HypergraphStore
	escrows  domain.EscrowStore
	karma    domain.KarmaStore
	sources  domain.SourceStore
	notifier *NotifyService
	logger   *zap.Logger
}

func NewSettlementService(
	graph domain.HypergraphStore,
	escrows domain.EscrowStore,
	karma domain.KarmaStore,
	sources domain.SourceStore,
	notifier *NotifyService,
	logger *zap.Logger,
) *SettlementService {
	return &SettlementService{
		graph:    graph,
		escrows:  escrows,
		karma:    karma,
		sources:  sources,
		notifier: notifier,
		logger:   logger,
	}
}

// RunCycle settles escrows and applies karma yields for one batch cycle.
// flips is the diff produced by the propagation run this cycle; now is
// the settlement instant (injected for testability).
func (s *SettlementService) RunCycle(ctx context.Context, flips *PropagationResult, now time.Time) (*SettlementResult, error) {
	res := &SettlementResult{}

	newlyDefeated := make(map[uuid.UUID]bool)
	if flips != nil {
		for _, id := range flips.NewlyDefeated {
			newlyDefeated[id] = true
		}
	}

	if err := s.settleEscrows(ctx, newlyDefeated, now, res); err != nil {
		return nil, err
	}
	if err := s.applyYields(ctx, now, res); err != nil {
		return nil, err
	}

	updated, err := s.sources.RecomputeReputation(ctx)
	if err != nil {
		return nil, err
	}
	res.SourcesUpdated = updated

	s.logger.Info("settlement cycle complete",
		zap.Int("paid", res.Paid),
		zap.Int("stolen", res.Stolen),
		zap.Int("languished", res.Languished),
		zap.Int("yields_applied", res.YieldsApplied),
		zap.Int64("sources_updated", res.SourcesUpdated))
	return res, nil
}

// settleEscrows walks every active bounty: a conclusion that flipped to
// defeated while the stake was active forfeits it to its attackers
// (stolen) — the flip was observed during the window even when expiry
// passes between propagation and settlement; a conclusion that survives
// to expiry without ever flipping returns the stake (paid); expiry in an
// indeterminate state returns it unresolved (languished).
func (s *SettlementService) settleEscrows(ctx context.Context, newlyDefeated map[uuid.UUID]bool, now time.Time, res *SettlementResult) error {
	active, err := s.escrows.ListActive(ctx)
	if err != nil {
		return err
	}

	for i := range active {
		sn := &active[i]
		expired := sn.EscrowExpiresAt != nil && now.After(*sn.EscrowExpiresAt)

		conclusion, err := s.graph.GetSchemeConclusion(ctx, sn.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// The scheme lost its conclusion (superseding re-ingest);
				// at expiry there is nothing left to judge.
				if expired {
					if err := s.resolve(ctx, sn, domain.EscrowLanguished, domain.NoticeBountyLanguished); err != nil {
						return err
					}
					res.Languished++
				}
				continue
			}
			return err
		}

		switch {
		case newlyDefeated[conclusion.ID]:
			if err := s.resolve(ctx, sn, domain.EscrowStolen, domain.NoticeBountyStolen); err != nil {
				return err
			}
			res.Stolen++
		case expired && !conclusion.IsDefeated:
			if err := s.resolve(ctx, sn, domain.EscrowPaid, domain.NoticeBountyPaid); err != nil {
				return err
			}
			res.Paid++
		case expired:
			// Defeated at expiry without an observed flip this cycle.
			if err := s.resolve(ctx, sn, domain.EscrowLanguished, domain.NoticeBountyLanguished); err != nil {
				return err
			}
			res.Languished++
		}
	}
	return nil
}

func (s *SettlementService) resolve(ctx context.Context, sn *domain.SNode, status domain.EscrowStatus, kind domain.NotificationKind) error {
	if err := s.escrows.Resolve(ctx, sn.ID, status); err != nil {
		// Lost the race with another settle; the forward-only guard
		// already resolved it.
		if errors.Is(err, store.ErrInvalidTransition) {
			return nil
		}
		return err
	}
	if s.notifier != nil {
		if err := s.notifier.NotifySettlement(ctx, sn, kind); err != nil {
			s.logger.Warn("settlement notice failed",
				zap.String("scheme_id", sn.ID.String()), zap.Error(err))
		}
	}
	return nil
}

// applyYields credits each role-tagged I-Node's author scaled by its
// current evidence rank: pioneers for originating surviving claims,
// builders for supporting premises that remain undefeated, critics for
// attacks that successfully defeat a conclusion.
func (s *SettlementService) applyYields(ctx context.Context, now time.Time, res *SettlementResult) error {
	inodes, err := s.graph.ListAllINodes(ctx)
	if err != nil {
		return err
	}
	snodes, err := s.graph.ListAllSNodes(ctx)
	if err != nil {
		return err
	}
	edges, err := s.graph.ListAllEdges(ctx)
	if err != nil {
		return err
	}

	yields := computeYields(inodes, snodes, edges)
	if len(yields) == 0 {
		return nil
	}
	if err := s.karma.ApplyYields(ctx, now, yields); err != nil {
		return err
	}
	res.YieldsApplied = len(yields)
	return nil
}

// computeYields derives per-user increments from the propagated graph.
// Increments for the same user and role are summed before application.
func computeYields(inodes []domain.INode, snodes []domain.SNode, edges []domain.Edge) []domain.KarmaYield {
	byID := make(map[uuid.UUID]*domain.INode, len(inodes))
	for i := range inodes {
		byID[inodes[i].ID] = &inodes[i]
	}
	direction := make(map[uuid.UUID]domain.SchemeDirection, len(snodes))
	for i := range snodes {
		direction[snodes[i].ID] = snodes[i].Direction
	}

	premiseOf := make(map[uuid.UUID][]uuid.UUID)
	conclusionBy := make(map[uuid.UUID]uuid.UUID)
	for _, e := range edges {
		if e.TargetINodeID == nil {
			continue
		}
		switch e.Role {
		case domain.RolePremise:
			premiseOf[*e.TargetINodeID] = append(premiseOf[*e.TargetINodeID], e.SchemeID)
		case domain.RoleConclusion:
			conclusionBy[e.SchemeID] = *e.TargetINodeID
		}
	}

	type key struct {
		user uuid.UUID
		role domain.NodeRole
	}
	sums := make(map[key]float64)

	for i := range inodes {
		n := &inodes[i]
		if n.NodeRole == "" || n.CreatedBy == nil {
			continue
		}
		rank := float64(n.EvidenceRank)
		var amount float64

		switch n.NodeRole {
		case domain.RolePioneer:
			if !n.IsDefeated {
				amount = PioneerYieldRate * rank
			}
		case domain.RoleBuilder:
			if n.IsDefeated {
				break
			}
			for _, schemeID := range premiseOf[n.ID] {
				if direction[schemeID] != domain.DirectionSupport {
					continue
				}
				if concl, ok := conclusionBy[schemeID]; ok {
					if c := byID[concl]; c != nil && !c.IsDefeated {
						amount = BuilderYieldRate * rank
						break
					}
				}
			}
		case domain.RoleCritic:
			for _, schemeID := range premiseOf[n.ID] {
				if direction[schemeID] != domain.DirectionAttack {
					continue
				}
				if concl, ok := conclusionBy[schemeID]; ok {
					if c := byID[concl]; c != nil && c.IsDefeated {
						amount = CriticYieldRate * rank
						break
					}
				}
			}
		}

		if amount > 0 {
			sums[key{user: *n.CreatedBy, role: n.NodeRole}] += amount
		}
	}

	yields := make([]domain.KarmaYield, 0, len(sums))
	for k, amount := range sums {
		yields = append(yields, domain.KarmaYield{UserID: k.user, Role: k.role, Amount: amount})
	}
	return yields
}
