package service

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/argumentlab/dialectic/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrCycleInProgress = errors.New("batch cycle already in progress")

// PropagationResult is the flip diff and bookkeeping from one full-graph
// recomputation, the primary input of settlement and notification.
type PropagationResult struct {
	Nodes         int         `json:"nodes"`
	Components    int         `json:"components"`
	Bridges       int         `json:"bridges"`
	NewlyDefeated []uuid.UUID `json:"newly_defeated"`
	NewlyRevived  []uuid.UUID `json:"newly_revived"`
	Iterations    int         `json:"iterations"`
	Converged     bool        `json:"converged"`
}

// PropagationService recomputes evidence rank, defeat status, and
// connected components over the whole graph as one nightly batch. It
// never runs concurrently with itself; updates are applied only after the
// full in-memory computation succeeds, so a crash mid-batch leaves the
// previous snapshot intact.
type PropagationService struct {
	graph    domain.HypergraphStore
	notifier *NotifyService
	logger   *zap.Logger

	running atomic.Bool
}

func NewPropagationService(graph domain.HypergraphStore, notifier *NotifyService, logger *zap.Logger) *PropagationService {
	return &PropagationService{
		graph:    graph,
		notifier: notifier,
		logger:   logger,
	}
}

// RunCycle executes one full recomputation: snapshot the defeated set,
// load the graph, assign components, iterate ranks to a fixed point per
// component in parallel, then persist everything set-based and emit flip
// notices.
func (s *PropagationService) RunCycle(ctx context.Context) (*PropagationResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer s.running.Store(false)

	started := time.Now()

	// Pre-state snapshot before any mutation; the flip diff depends on it.
	prevDefeated, err := s.graph.ListDefeatedINodeIDs(ctx)
	if err != nil {
		return nil, err
	}
	prevSet := make(map[uuid.UUID]bool, len(prevDefeated))
	for _, id := range prevDefeated {
		prevSet[id] = true
	}

	inodes, err := s.graph.ListAllINodes(ctx)
	if err != nil {
		return nil, err
	}
	snodes, err := s.graph.ListAllSNodes(ctx)
	if err != nil {
		return nil, err
	}
	edges, err := s.graph.ListAllEdges(ctx)
	if err != nil {
		return nil, err
	}

	components := computeComponents(inodes, snodes, edges)
	ranks, defeated, iterations, converged := s.iterateComponents(ctx, inodes, snodes, edges, components)

	res := &PropagationResult{
		Nodes:      len(inodes),
		Bridges:    len(components.bridges),
		Iterations: iterations,
		Converged:  converged,
	}
	seen := make(map[uuid.UUID]bool)
	for _, c := range components.byNode {
		seen[c] = true
	}
	res.Components = len(seen)

	updates := make([]domain.PropagationUpdate, 0, len(inodes))
	for i := range inodes {
		n := &inodes[i]
		u := domain.PropagationUpdate{
			ID:           n.ID,
			EvidenceRank: float32(ranks[n.ID]),
			IsDefeated:   defeated[n.ID],
		}
		if c, ok := components.byNode[n.ID]; ok {
			comp := c
			u.ComponentID = &comp
		}
		updates = append(updates, u)

		if u.IsDefeated && !prevSet[n.ID] {
			res.NewlyDefeated = append(res.NewlyDefeated, n.ID)
		}
		if !u.IsDefeated && prevSet[n.ID] {
			res.NewlyRevived = append(res.NewlyRevived, n.ID)
		}
	}

	if err := s.graph.ApplyPropagation(ctx, updates); err != nil {
		return nil, err
	}
	if err := s.graph.MarkBridges(ctx, components.bridges); err != nil {
		return nil, err
	}

	if s.notifier != nil {
		if _, err := s.notifier.NotifyFlips(ctx, inodes, snodes, edges, res.NewlyDefeated, res.NewlyRevived); err != nil {
			s.logger.Warn("flip notification failed", zap.Error(err))
		}
	}

	if !converged {
		s.logger.Warn("propagation did not converge, keeping last-iteration values",
			zap.Int("iterations", iterations))
	}
	s.logger.Info("propagation cycle complete",
		zap.Int("nodes", res.Nodes),
		zap.Int("components", res.Components),
		zap.Int("bridges", res.Bridges),
		zap.Int("newly_defeated", len(res.NewlyDefeated)),
		zap.Int("newly_revived", len(res.NewlyRevived)),
		zap.Int("iterations", res.Iterations),
		zap.Duration("took", time.Since(started)))

	return res, nil
}

// iterateComponents runs the rank fixpoint per connected component in
// parallel; support and attack never cross component boundaries, so the
// components are independent.
func (s *PropagationService) iterateComponents(ctx context.Context, inodes []domain.INode, snodes []domain.SNode, edges []domain.Edge, components *componentResult) (map[uuid.UUID]float64, map[uuid.UUID]bool, int, bool) {
	type partition struct {
		inodes []domain.INode
		snodes []domain.SNode
		edges  []domain.Edge
		result *fixpointResult
	}

	parts := make(map[uuid.UUID]*partition)
	ranks := make(map[uuid.UUID]float64, len(inodes))
	defeated := make(map[uuid.UUID]bool, len(inodes))

	for i := range inodes {
		n := inodes[i]
		comp, ok := components.byNode[n.ID]
		if !ok {
			// No scheme touches this node; its rank is its base weight.
			ranks[n.ID] = float64(n.BaseWeight)
			defeated[n.ID] = false
			continue
		}
		p := parts[comp]
		if p == nil {
			p = &partition{}
			parts[comp] = p
		}
		p.inodes = append(p.inodes, n)
	}

	conclusionBy := make(map[uuid.UUID]uuid.UUID)
	for _, e := range edges {
		if e.Role == domain.RoleConclusion && e.TargetINodeID != nil {
			conclusionBy[e.SchemeID] = *e.TargetINodeID
		}
	}
	schemeComp := make(map[uuid.UUID]uuid.UUID)
	for i := range snodes {
		if concl, ok := conclusionBy[snodes[i].ID]; ok {
			if comp, ok := components.byNode[concl]; ok {
				schemeComp[snodes[i].ID] = comp
				if p := parts[comp]; p != nil {
					p.snodes = append(p.snodes, snodes[i])
				}
			}
		}
	}
	for _, e := range edges {
		if comp, ok := schemeComp[e.SchemeID]; ok {
			if p := parts[comp]; p != nil {
				p.edges = append(p.edges, e)
			}
		}
	}

	ordered := make([]*partition, 0, len(parts))
	for _, p := range parts {
		ordered = append(ordered, p)
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, p := range ordered {
		p := p
		g.Go(func() error {
			p.result = runFixpoint(buildPropGraph(p.inodes, p.snodes, p.edges))
			return nil
		})
	}
	_ = g.Wait()

	maxIterations := 0
	converged := true
	for _, p := range ordered {
		for id, r := range p.result.rank {
			ranks[id] = r
		}
		for id, d := range p.result.defeated {
			defeated[id] = d
		}
		if p.result.iterations > maxIterations {
			maxIterations = p.result.iterations
		}
		if !p.result.converged {
			converged = false
		}
	}
	return ranks, defeated, maxIterations, converged
}
