package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/argumentlab/dialectic/internal/domain"
	"github.com/argumentlab/dialectic/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrUnknownNodeKind  = errors.New("unknown node kind")
	ErrRunNotIngestable = errors.New("run is not in an ingestable state")
)

const (
	// DefaultBaseWeight seeds the credibility of claims without a cited
	// source.
	DefaultBaseWeight = 1.0
	// CitationApprovalWeight scales the cited source's community approval
	// into a FACT claim's base weight.
	CitationApprovalWeight = 0.5
	MinBaseWeight          = 0.1
	MaxBaseWeight          = 2.0
)

// IngestStats counts what one ingest persisted and what it dropped.
// Dropped items are individually unresolvable references, never failures.
type IngestStats struct {
	INodes           int `json:"inodes"`
	SNodes           int `json:"snodes"`
	Ghosts           int `json:"ghosts"`
	Edges            int `json:"edges"`
	Questions        int `json:"questions"`
	Values           int `json:"values"`
	DroppedGhosts    int `json:"dropped_ghosts"`
	DroppedEdges     int `json:"dropped_edges"`
	DroppedQuestions int `json:"dropped_questions"`
	DroppedValues    int `json:"dropped_values"`
}

// IngestResult is the outcome of one ingest: the engine-local to durable
// id map plus persistence counts.
type IngestResult struct {
	IDMap domain.ResolvedIDMap `json:"id_map"`
	Stats IngestStats          `json:"stats"`
}

type IngestionService struct {
	runs     domain.RunStore
	graph    domain.HypergraphStore
	sources  domain.SourceStore
	concepts *ConceptService
	dedupe   *DedupeService
	logger   *zap.Logger
}

func NewIngestionService(
	runs domain.RunStore,
	graph domain.HypergraphStore,
	sources domain.SourceStore,
	concepts *ConceptService,
	dedupe *DedupeService,
	logger *zap.Logger,
) *IngestionService {
	return &IngestionService{
		runs:     runs,
		graph:    graph,
		sources:  sources,
		concepts: concepts,
		dedupe:   dedupe,
		logger:   logger,
	}
}

// Ingest converts one completed external analysis into hypergraph rows,
// idempotently. Any rows previously persisted for the run are deleted
// inside the same transaction, so retries of a failed or partial job never
// duplicate data. Items referencing unknown engine-local ids are dropped
// and counted; a failure of any step aborts the whole transaction.
func (s *IngestionService) Ingest(ctx context.Context, runID uuid.UUID, actor *uuid.UUID, result *domain.AnalysisResult, embeddings domain.EmbeddingSet) (*IngestResult, error) {
	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	// Reject unknown node tags before touching the store.
	for _, n := range result.Nodes {
		switch n.Kind {
		case domain.KindADU, domain.KindScheme, domain.KindGhost:
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownNodeKind, n.Kind)
		}
	}

	// Re-ingesting a completed or failed run supersedes its rows; the
	// guarded claim is what serializes workers on one run — a run another
	// worker holds fails the claim, and retries route through stuck-run
	// reclamation instead of external locks.
	if err := s.runs.ClaimForProcessing(ctx, runID); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return nil, ErrRunNotIngestable
		}
		return nil, err
	}

	res, err := s.ingestTx(ctx, run, actor, result, embeddings)
	if err != nil {
		_ = s.runs.SetStatus(ctx, runID, domain.RunFailed, err.Error())
		return nil, err
	}
	if err := s.runs.SetStatus(ctx, runID, domain.RunCompleted, ""); err != nil {
		return nil, err
	}

	s.reconcile(ctx, run, result, embeddings, res.IDMap)

	s.logger.Info("run ingested",
		zap.String("run_id", runID.String()),
		zap.Int("inodes", res.Stats.INodes),
		zap.Int("snodes", res.Stats.SNodes),
		zap.Int("edges", res.Stats.Edges),
		zap.Int("dropped_edges", res.Stats.DroppedEdges),
		zap.Int("dropped_ghosts", res.Stats.DroppedGhosts))

	return res, nil
}

func (s *IngestionService) ingestTx(ctx context.Context, run *domain.AnalysisRun, actor *uuid.UUID, result *domain.AnalysisResult, embeddings domain.EmbeddingSet) (*IngestResult, error) {
	res := &IngestResult{IDMap: make(domain.ResolvedIDMap)}
	stats := &res.Stats

	// Citation base weights come from source approval, resolved outside
	// the graph transaction since sources are shared across runs.
	baseWeights := make(map[string]float32)
	citedSources := make(map[string]uuid.UUID)
	for _, n := range result.Nodes {
		if n.Kind != domain.KindADU || n.Citation == "" {
			continue
		}
		src, err := s.sources.GetOrCreate(ctx, n.Citation)
		if err != nil {
			return nil, fmt.Errorf("resolve citation %q: %w", n.Citation, err)
		}
		baseWeights[n.LocalID] = clampBaseWeight(DefaultBaseWeight + CitationApprovalWeight*src.ApprovalScore)
		citedSources[n.LocalID] = src.ID
	}

	roles := deriveNodeRoles(result)

	err := s.graph.InTx(ctx, func(ctx context.Context, tx domain.HypergraphTx) error {
		if err := tx.DeleteRunData(ctx, run.ID); err != nil {
			return err
		}

		schemeIDs := make(map[string]uuid.UUID)
		ghostIDs := make(map[string]uuid.UUID)
		inodeIDs := make(map[string]uuid.UUID)

		// I-Nodes first, building the id map.
		for i := range result.Nodes {
			n := &result.Nodes[i]
			if n.Kind != domain.KindADU {
				continue
			}
			inode := buildINode(run, actor, n, embeddings, baseWeights, citedSources, roles)
			if err := tx.InsertINode(ctx, inode); err != nil {
				return fmt.Errorf("insert inode %q: %w", n.LocalID, err)
			}
			inodeIDs[n.LocalID] = inode.ID
			res.IDMap[n.LocalID] = inode.ID
			stats.INodes++
		}

		// S-Nodes next, extending the map.
		for i := range result.Nodes {
			n := &result.Nodes[i]
			if n.Kind != domain.KindScheme {
				continue
			}
			direction := domain.SchemeDirection(n.Direction)
			if !domain.ValidSchemeDirection(n.Direction) {
				direction = domain.DirectionSupport
			}
			snode := &domain.SNode{
				RunID:       run.ID,
				EngineID:    n.LocalID,
				Direction:   direction,
				Confidence:  n.Confidence,
				GapDetected: n.GapDetected,
				Fallacy:     n.Fallacy,
				CreatedBy:   actor,
			}
			if err := tx.InsertSNode(ctx, snode); err != nil {
				return fmt.Errorf("insert snode %q: %w", n.LocalID, err)
			}
			schemeIDs[n.LocalID] = snode.ID
			res.IDMap[n.LocalID] = snode.ID
			stats.SNodes++
		}

		// Ghost nodes only when their parent scheme resolves; malformed
		// or orphaned ghosts are dropped, never a hard failure.
		for i := range result.Nodes {
			n := &result.Nodes[i]
			if n.Kind != domain.KindGhost {
				continue
			}
			parentID, ok := schemeIDs[n.SchemeRef]
			if !ok || n.Text == "" {
				stats.DroppedGhosts++
				continue
			}
			et := domain.EpistemicType(n.EpistemicType)
			if !domain.ValidEpistemicType(n.EpistemicType) {
				et = domain.EpistemicFact
			}
			ghost := &domain.Enthymeme{
				RunID:         run.ID,
				SchemeID:      parentID,
				Text:          n.Text,
				EpistemicType: et,
				Probability:   n.Probability,
			}
			if err := tx.InsertEnthymeme(ctx, ghost); err != nil {
				return fmt.Errorf("insert enthymeme %q: %w", n.LocalID, err)
			}
			ghostIDs[n.LocalID] = ghost.ID
			res.IDMap[n.LocalID] = ghost.ID
			stats.Ghosts++
		}

		// Edges only when both endpoints resolve.
		for _, e := range result.Edges {
			schemeID, ok := schemeIDs[e.SchemeRef]
			if !ok || !domain.ValidEdgeRole(e.Role) {
				stats.DroppedEdges++
				continue
			}
			edge := &domain.Edge{RunID: run.ID, SchemeID: schemeID, Role: domain.EdgeRole(e.Role)}
			if inodeID, ok := inodeIDs[e.TargetRef]; ok {
				edge.TargetINodeID = &inodeID
			} else if ghostID, ok := ghostIDs[e.TargetRef]; ok {
				edge.TargetGhostID = &ghostID
			} else {
				stats.DroppedEdges++
				continue
			}
			if err := tx.InsertEdge(ctx, edge); err != nil {
				return fmt.Errorf("insert edge %s->%s: %w", e.SchemeRef, e.TargetRef, err)
			}
			stats.Edges++
		}

		// Questions and values have non-nullable owners; drop and count
		// when the owner does not resolve.
		for _, q := range result.Questions {
			schemeID, ok := schemeIDs[q.SchemeRef]
			if !ok {
				stats.DroppedQuestions++
				continue
			}
			question := &domain.SocraticQuestion{
				RunID:            run.ID,
				SchemeID:         schemeID,
				UncertaintyLevel: q.UncertaintyLevel,
				Question:         q.Question,
			}
			if err := tx.InsertQuestion(ctx, question); err != nil {
				return fmt.Errorf("insert question for %q: %w", q.SchemeRef, err)
			}
			stats.Questions++
		}
		for _, v := range result.Values {
			inodeID, ok := inodeIDs[v.NodeRef]
			if !ok {
				stats.DroppedValues++
				continue
			}
			value := &domain.ExtractedValue{
				RunID:     run.ID,
				INodeID:   inodeID,
				Text:      v.Text,
				Embedding: v.Embedding,
			}
			if err := tx.InsertExtractedValue(ctx, value); err != nil {
				return fmt.Errorf("insert extracted value for %q: %w", v.NodeRef, err)
			}
			stats.Values++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func buildINode(run *domain.AnalysisRun, actor *uuid.UUID, n *domain.AnalysisNode, embeddings domain.EmbeddingSet, baseWeights map[string]float32, citedSources map[string]uuid.UUID, roles map[string]domain.NodeRole) *domain.INode {
	et := domain.EpistemicType(n.EpistemicType)
	if !domain.ValidEpistemicType(n.EpistemicType) {
		et = domain.EpistemicFact
	}
	base := float32(DefaultBaseWeight)
	if w, ok := baseWeights[n.LocalID]; ok {
		base = w
	}
	inode := &domain.INode{
		RunID:         run.ID,
		SourceRef:     run.SourceRef,
		EngineID:      n.LocalID,
		EpistemicType: et,
		Text:          n.Text,
		ResolvedText:  n.ResolvedText,
		Confidence:    n.Confidence,
		SpanStart:     n.SpanStart,
		SpanEnd:       n.SpanEnd,
		BaseWeight:    base,
		NodeRole:      roles[n.LocalID],
		CreatedBy:     actor,
	}
	if emb, ok := embeddings[n.LocalID]; ok {
		inode.Embedding = emb
	}
	if id, ok := citedSources[n.LocalID]; ok {
		inode.CitedSourceID = &id
	}
	return inode
}

// reconcile runs concept resolution, equivocation detection, and claim
// deduplication immediately after a committed ingest. These are
// best-effort: a failure here is operator-visible only and does not undo
// the committed run.
func (s *IngestionService) reconcile(ctx context.Context, run *domain.AnalysisRun, result *domain.AnalysisResult, embeddings domain.EmbeddingSet, idMap domain.ResolvedIDMap) {
	for i := range result.Nodes {
		n := &result.Nodes[i]
		durableID, ok := idMap[n.LocalID]
		if !ok {
			continue
		}
		switch n.Kind {
		case domain.KindADU:
			if len(n.Terms) > 0 && s.concepts != nil {
				if err := s.concepts.ResolveTerms(ctx, durableID, n.Terms); err != nil {
					s.logger.Warn("concept resolution failed",
						zap.String("inode_id", durableID.String()), zap.Error(err))
				}
			}
			if emb, ok := embeddings[n.LocalID]; ok && s.dedupe != nil {
				if err := s.dedupe.Canonicalize(ctx, durableID, run.SourceRef, n.Text, emb); err != nil {
					s.logger.Warn("claim dedup failed",
						zap.String("inode_id", durableID.String()), zap.Error(err))
				}
			}
		case domain.KindScheme:
			if s.concepts != nil {
				if _, err := s.concepts.DetectEquivocation(ctx, durableID); err != nil {
					s.logger.Warn("equivocation detection failed",
						zap.String("scheme_id", durableID.String()), zap.Error(err))
				}
			}
		}
	}
}

// deriveNodeRoles classifies each ADU by how it participates in the
// payload's schemes: conclusions originate claims (pioneer), premises of
// attacks criticize (critic), premises of supports build (builder).
// Conclusion wins when a node plays several parts.
func deriveNodeRoles(result *domain.AnalysisResult) map[string]domain.NodeRole {
	directions := make(map[string]domain.SchemeDirection)
	for _, n := range result.Nodes {
		if n.Kind == domain.KindScheme {
			directions[n.LocalID] = domain.SchemeDirection(n.Direction)
		}
	}
	roles := make(map[string]domain.NodeRole)
	for _, e := range result.Edges {
		switch domain.EdgeRole(e.Role) {
		case domain.RoleConclusion:
			roles[e.TargetRef] = domain.RolePioneer
		case domain.RolePremise:
			if roles[e.TargetRef] == domain.RolePioneer {
				continue
			}
			if directions[e.SchemeRef] == domain.DirectionAttack {
				roles[e.TargetRef] = domain.RoleCritic
			} else if roles[e.TargetRef] != domain.RoleCritic {
				roles[e.TargetRef] = domain.RoleBuilder
			}
		}
	}
	return roles
}

func clampBaseWeight(w float32) float32 {
	if w < MinBaseWeight {
		return MinBaseWeight
	}
	if w > MaxBaseWeight {
		return MaxBaseWeight
	}
	return w
}
