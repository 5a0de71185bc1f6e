package service

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/argumentlab/dialectic/internal/domain"
	"github.com/google/uuid"
)

type ingestFixture struct {
	runs     *mockRunStore
	graph    *mockGraphStore
	sources  *mockSourceStore
	concepts *mockConceptStore
	claims   *mockClaimStore
	svc      *IngestionService
}

func newIngestFixture() *ingestFixture {
	f := &ingestFixture{
		runs:     newMockRunStore(),
		graph:    newMockGraphStore(),
		sources:  newMockSourceStore(),
		concepts: newMockConceptStore(),
		claims:   newMockClaimStore(),
	}
	f.graph.claims = f.claims
	logger := testLogger()
	conceptSvc := NewConceptService(f.concepts, f.graph, logger)
	dedupeSvc := NewDedupeService(f.claims, logger)
	f.svc = NewIngestionService(f.runs, f.graph, f.sources, conceptSvc, dedupeSvc, logger)
	return f
}

func (f *ingestFixture) newRun(t *testing.T, sourceRef string) uuid.UUID {
	t.Helper()
	run := &domain.AnalysisRun{SourceRef: sourceRef, ContentHash: "hash-" + sourceRef}
	if err := f.runs.Create(context.Background(), run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	return run.ID
}

func basicPayload() *domain.AnalysisResult {
	return &domain.AnalysisResult{
		Nodes: []domain.AnalysisNode{
			{Kind: domain.KindADU, LocalID: "a1", Text: "carbon taxes reduce emissions", EpistemicType: "FACT", Confidence: 0.9},
			{Kind: domain.KindADU, LocalID: "a2", Text: "we should adopt a carbon tax", EpistemicType: "POLICY", Confidence: 0.8},
			{Kind: domain.KindScheme, LocalID: "s1", Direction: "SUPPORT", Confidence: 0.85, GapDetected: true},
			{Kind: domain.KindGhost, LocalID: "g1", SchemeRef: "s1", Text: "emissions reduction is desirable", EpistemicType: "VALUE", Probability: 0.7},
		},
		Edges: []domain.AnalysisEdge{
			{SchemeRef: "s1", TargetRef: "a1", Role: "premise"},
			{SchemeRef: "s1", TargetRef: "a2", Role: "conclusion"},
		},
		Questions: []domain.AnalysisQuestion{
			{SchemeRef: "s1", UncertaintyLevel: 0.6, Question: "does the tax level matter?"},
		},
		Values: []domain.AnalysisValue{
			{NodeRef: "a2", Text: "climate responsibility"},
		},
	}
}

func TestIngestPersistsGraph(t *testing.T) {
	f := newIngestFixture()
	runID := f.newRun(t, "thread-1")

	res, err := f.svc.Ingest(context.Background(), runID, nil, basicPayload(), nil)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if res.Stats.INodes != 2 || res.Stats.SNodes != 1 || res.Stats.Ghosts != 1 {
		t.Fatalf("unexpected node stats: %+v", res.Stats)
	}
	if res.Stats.Edges != 2 || res.Stats.Questions != 1 || res.Stats.Values != 1 {
		t.Fatalf("unexpected edge stats: %+v", res.Stats)
	}
	for _, local := range []string{"a1", "a2", "s1", "g1"} {
		if _, ok := res.IDMap[local]; !ok {
			t.Fatalf("id map missing %q", local)
		}
	}

	run, err := f.runs.GetByID(context.Background(), runID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != domain.RunCompleted {
		t.Fatalf("expected completed run, got %s", run.Status)
	}

	premise, _ := f.graph.GetINode(context.Background(), res.IDMap["a1"])
	conclusion, _ := f.graph.GetINode(context.Background(), res.IDMap["a2"])
	if premise.NodeRole != domain.RoleBuilder {
		t.Fatalf("expected support premise tagged builder, got %q", premise.NodeRole)
	}
	if conclusion.NodeRole != domain.RolePioneer {
		t.Fatalf("expected conclusion tagged pioneer, got %q", conclusion.NodeRole)
	}
	if premise.SourceRef != "thread-1" {
		t.Fatalf("expected source ref propagated, got %q", premise.SourceRef)
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	f := newIngestFixture()
	runID := f.newRun(t, "thread-1")
	ctx := context.Background()

	if _, err := f.svc.Ingest(ctx, runID, nil, basicPayload(), nil); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if _, err := f.svc.Ingest(ctx, runID, nil, basicPayload(), nil); err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	if len(f.graph.inodes) != 2 {
		t.Fatalf("re-ingest duplicated inodes: %d", len(f.graph.inodes))
	}
	if len(f.graph.snodes) != 1 || len(f.graph.edges) != 2 {
		t.Fatalf("re-ingest duplicated schemes or edges: %d / %d", len(f.graph.snodes), len(f.graph.edges))
	}
	if len(f.graph.enthymemes) != 1 || len(f.graph.questions) != 1 || len(f.graph.values) != 1 {
		t.Fatal("re-ingest duplicated attachments")
	}
}

func TestReingestKeepsClaimAggregatesFlat(t *testing.T) {
	f := newIngestFixture()
	runID := f.newRun(t, "thread-1")
	ctx := context.Background()

	emb := []float32{1, 0, 0}
	payload := basicPayload()
	embeddings := domain.EmbeddingSet{"a1": emb}

	if _, err := f.svc.Ingest(ctx, runID, nil, payload, embeddings); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if _, err := f.svc.Ingest(ctx, runID, nil, payload, embeddings); err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	if len(f.claims.claims) != 1 {
		t.Fatalf("expected one canonical claim, got %d", len(f.claims.claims))
	}
	for _, c := range f.claims.claims {
		if c.ADUCount != 1 {
			t.Fatalf("re-ingest of the same run inflated adu_count: got %d, want 1", c.ADUCount)
		}
		if c.DiscussionCount != 1 {
			t.Fatalf("re-ingest of the same run inflated discussion_count: got %d, want 1", c.DiscussionCount)
		}
	}

	// A genuinely new discussion still counts.
	otherRun := f.newRun(t, "thread-2")
	if _, err := f.svc.Ingest(ctx, otherRun, nil, basicPayload(), domain.EmbeddingSet{"a1": emb}); err != nil {
		t.Fatalf("other-thread ingest: %v", err)
	}
	for _, c := range f.claims.claims {
		if c.ADUCount != 2 || c.DiscussionCount != 2 {
			t.Fatalf("cross-thread link lost: adu=%d discussions=%d", c.ADUCount, c.DiscussionCount)
		}
	}
}

// staleReadRunStore reads a snapshot from before another worker claimed
// the run; only the guarded claim may decide who processes it.
type staleReadRunStore struct {
	*mockRunStore
}

func (s *staleReadRunStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.AnalysisRun, error) {
	r, err := s.mockRunStore.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Status = domain.RunPending
	return r, nil
}

func TestIngestClaimSerializesWorkers(t *testing.T) {
	f := newIngestFixture()
	runID := f.newRun(t, "thread-1")
	ctx := context.Background()

	// The other worker wins the claim after our status read.
	if err := f.runs.ClaimForProcessing(ctx, runID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	stale := &staleReadRunStore{mockRunStore: f.runs}
	logger := testLogger()
	svc := NewIngestionService(stale, f.graph, f.sources, NewConceptService(f.concepts, f.graph, logger), NewDedupeService(f.claims, logger), logger)

	_, err := svc.Ingest(ctx, runID, nil, basicPayload(), nil)
	if !errors.Is(err, ErrRunNotIngestable) {
		t.Fatalf("expected ErrRunNotIngestable, got %v", err)
	}
	if len(f.graph.inodes) != 0 {
		t.Fatal("losing worker must not write")
	}
}

func TestIngestRejectsUnknownNodeKind(t *testing.T) {
	f := newIngestFixture()
	runID := f.newRun(t, "thread-1")

	payload := basicPayload()
	payload.Nodes = append(payload.Nodes, domain.AnalysisNode{Kind: "widget", LocalID: "w1"})

	_, err := f.svc.Ingest(context.Background(), runID, nil, payload, nil)
	if !errors.Is(err, ErrUnknownNodeKind) {
		t.Fatalf("expected ErrUnknownNodeKind, got %v", err)
	}
	if len(f.graph.inodes) != 0 {
		t.Fatal("rejected payload must not write anything")
	}
	run, _ := f.runs.GetByID(context.Background(), runID)
	if run.Status != domain.RunPending {
		t.Fatalf("rejected run must stay pending, got %s", run.Status)
	}
}

func TestIngestRefusesProcessingRun(t *testing.T) {
	f := newIngestFixture()
	runID := f.newRun(t, "thread-1")
	ctx := context.Background()
	if err := f.runs.SetStatus(ctx, runID, domain.RunProcessing, ""); err != nil {
		t.Fatalf("set status: %v", err)
	}

	_, err := f.svc.Ingest(ctx, runID, nil, basicPayload(), nil)
	if !errors.Is(err, ErrRunNotIngestable) {
		t.Fatalf("expected ErrRunNotIngestable, got %v", err)
	}
}

func TestIngestDropsDanglingReferences(t *testing.T) {
	f := newIngestFixture()
	runID := f.newRun(t, "thread-1")

	payload := basicPayload()
	payload.Nodes = append(payload.Nodes,
		domain.AnalysisNode{Kind: domain.KindGhost, LocalID: "g2", SchemeRef: "missing", Text: "orphan"},
		domain.AnalysisNode{Kind: domain.KindGhost, LocalID: "g3", SchemeRef: "s1", Text: ""},
	)
	payload.Edges = append(payload.Edges,
		domain.AnalysisEdge{SchemeRef: "s1", TargetRef: "missing", Role: "premise"},
		domain.AnalysisEdge{SchemeRef: "missing", TargetRef: "a1", Role: "premise"},
		domain.AnalysisEdge{SchemeRef: "s1", TargetRef: "a1", Role: "sideways"},
	)
	payload.Questions = append(payload.Questions,
		domain.AnalysisQuestion{SchemeRef: "missing", Question: "?"},
	)
	payload.Values = append(payload.Values,
		domain.AnalysisValue{NodeRef: "missing", Text: "orphan value"},
	)

	res, err := f.svc.Ingest(context.Background(), runID, nil, payload, nil)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Stats.DroppedGhosts != 2 {
		t.Fatalf("expected 2 dropped ghosts, got %d", res.Stats.DroppedGhosts)
	}
	if res.Stats.DroppedEdges != 3 {
		t.Fatalf("expected 3 dropped edges, got %d", res.Stats.DroppedEdges)
	}
	if res.Stats.DroppedQuestions != 1 || res.Stats.DroppedValues != 1 {
		t.Fatalf("expected dropped question and value, got %+v", res.Stats)
	}
	if res.Stats.Edges != 2 {
		t.Fatalf("valid edges must survive, got %d", res.Stats.Edges)
	}
}

func TestIngestCitationSeedsBaseWeight(t *testing.T) {
	f := newIngestFixture()
	runID := f.newRun(t, "thread-1")
	ctx := context.Background()

	src, err := f.sources.GetOrCreate(ctx, "doi:10.1000/demo")
	if err != nil {
		t.Fatalf("seed source: %v", err)
	}
	if err := f.sources.SetApproval(ctx, src.ID, 1.0); err != nil {
		t.Fatalf("set approval: %v", err)
	}

	payload := basicPayload()
	payload.Nodes[0].Citation = "doi:10.1000/demo"

	res, err := f.svc.Ingest(ctx, runID, nil, payload, nil)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	cited, _ := f.graph.GetINode(ctx, res.IDMap["a1"])
	if math.Abs(float64(cited.BaseWeight)-1.5) > 1e-6 {
		t.Fatalf("expected base weight 1.5, got %f", cited.BaseWeight)
	}
	if cited.CitedSourceID == nil || *cited.CitedSourceID != src.ID {
		t.Fatal("expected cited source recorded on the inode")
	}

	uncited, _ := f.graph.GetINode(ctx, res.IDMap["a2"])
	if math.Abs(float64(uncited.BaseWeight)-DefaultBaseWeight) > 1e-6 {
		t.Fatalf("expected default base weight, got %f", uncited.BaseWeight)
	}
}

func TestIngestInvalidDirectionDefaultsToSupport(t *testing.T) {
	f := newIngestFixture()
	runID := f.newRun(t, "thread-1")

	payload := basicPayload()
	payload.Nodes[2].Direction = "MAYBE"

	res, err := f.svc.Ingest(context.Background(), runID, nil, payload, nil)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	sn := f.graph.snodes[res.IDMap["s1"]]
	if sn.Direction != domain.DirectionSupport {
		t.Fatalf("expected SUPPORT fallback, got %s", sn.Direction)
	}
}

func TestIngestReconcilesConceptsAndClaims(t *testing.T) {
	f := newIngestFixture()
	runID := f.newRun(t, "thread-1")

	emb := []float32{1, 0, 0}
	payload := basicPayload()
	payload.Nodes[0].Terms = []domain.AnalysisTerm{{Text: "Carbon Tax", Embedding: emb}}
	embeddings := domain.EmbeddingSet{"a1": emb}

	res, err := f.svc.Ingest(context.Background(), runID, nil, payload, embeddings)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	bindings, _ := f.concepts.GetBindings(context.Background(), res.IDMap["a1"])
	if len(bindings) != 1 || bindings[0].Term != "carbon tax" {
		t.Fatalf("expected one normalized term binding, got %+v", bindings)
	}
	if len(f.claims.claims) != 1 {
		t.Fatalf("expected one canonical claim minted, got %d", len(f.claims.claims))
	}
}

func TestDeriveNodeRoles(t *testing.T) {
	result := &domain.AnalysisResult{
		Nodes: []domain.AnalysisNode{
			{Kind: domain.KindScheme, LocalID: "sup", Direction: "SUPPORT"},
			{Kind: domain.KindScheme, LocalID: "atk", Direction: "ATTACK"},
		},
		Edges: []domain.AnalysisEdge{
			{SchemeRef: "sup", TargetRef: "builder", Role: "premise"},
			{SchemeRef: "atk", TargetRef: "critic", Role: "premise"},
			{SchemeRef: "sup", TargetRef: "both", Role: "conclusion"},
			{SchemeRef: "atk", TargetRef: "both", Role: "premise"},
		},
	}
	roles := deriveNodeRoles(result)

	if roles["builder"] != domain.RoleBuilder {
		t.Fatalf("expected builder, got %q", roles["builder"])
	}
	if roles["critic"] != domain.RoleCritic {
		t.Fatalf("expected critic, got %q", roles["critic"])
	}
	// Conclusion wins over premise participation.
	if roles["both"] != domain.RolePioneer {
		t.Fatalf("expected pioneer for conclusion, got %q", roles["both"])
	}
}

func TestClampBaseWeight(t *testing.T) {
	if got := clampBaseWeight(3.0); got != MaxBaseWeight {
		t.Fatalf("expected clamp to %f, got %f", float64(MaxBaseWeight), got)
	}
	if got := clampBaseWeight(-1.0); got != MinBaseWeight {
		t.Fatalf("expected clamp to %f, got %f", float64(MinBaseWeight), got)
	}
}
