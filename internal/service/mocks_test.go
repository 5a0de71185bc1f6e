package service

import (
	"context"
	"math"
	"time"

	"github.com/argumentlab/dialectic/internal/domain"
	"github.com/argumentlab/dialectic/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

var (
	_ domain.RunStore          = (*mockRunStore)(nil)
	_ domain.HypergraphStore   = (*mockGraphStore)(nil)
	_ domain.HypergraphTx      = (*mockGraphTx)(nil)
	_ domain.ConceptStore      = (*mockConceptStore)(nil)
	_ domain.ClaimStore        = (*mockClaimStore)(nil)
	_ domain.SourceStore       = (*mockSourceStore)(nil)
	_ domain.EscrowStore       = (*mockEscrowStore)(nil)
	_ domain.KarmaStore        = (*mockKarmaStore)(nil)
	_ domain.NotificationStore = (*mockNotificationStore)(nil)
)

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// mockRunStore implements domain.RunStore for testing.
type mockRunStore struct {
	runs map[uuid.UUID]*domain.AnalysisRun
}

func newMockRunStore() *mockRunStore {
	return &mockRunStore{runs: make(map[uuid.UUID]*domain.AnalysisRun)}
}

func (m *mockRunStore) Create(ctx context.Context, r *domain.AnalysisRun) error {
	for _, existing := range m.runs {
		if existing.SourceRef == r.SourceRef && existing.ContentHash == r.ContentHash {
			*r = *existing
			return nil
		}
	}
	r.ID = uuid.New()
	if r.Status == "" {
		r.Status = domain.RunPending
	}
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	cp := *r
	m.runs[r.ID] = &cp
	return nil
}

func (m *mockRunStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.AnalysisRun, error) {
	r, ok := m.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRunStore) GetBySourceAndHash(ctx context.Context, sourceRef, contentHash string) (*domain.AnalysisRun, error) {
	for _, r := range m.runs {
		if r.SourceRef == sourceRef && r.ContentHash == contentHash {
			cp := *r
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockRunStore) ClaimForProcessing(ctx context.Context, id uuid.UUID) error {
	r, ok := m.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	if r.Status == domain.RunProcessing {
		return store.ErrInvalidTransition
	}
	r.Status = domain.RunProcessing
	r.Error = ""
	r.UpdatedAt = time.Now()
	return nil
}

func (m *mockRunStore) SetStatus(ctx context.Context, id uuid.UUID, status domain.RunStatus, errMsg string) error {
	r, ok := m.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	r.Status = status
	r.Error = errMsg
	r.UpdatedAt = time.Now()
	return nil
}

func (m *mockRunStore) ReclaimStale(ctx context.Context, window time.Duration) (int64, error) {
	var n int64
	cutoff := time.Now().Add(-window)
	for _, r := range m.runs {
		if r.Status == domain.RunProcessing && r.UpdatedAt.Before(cutoff) {
			r.Status = domain.RunPending
			r.Error = ""
			n++
		}
	}
	return n, nil
}

// mockGraphStore implements domain.HypergraphStore in memory. When claims
// is set, deleting a run's inodes also retracts their claim links and
// aggregates, mirroring the store's delete contract.
type mockGraphStore struct {
	inodes     map[uuid.UUID]*domain.INode
	snodes     map[uuid.UUID]*domain.SNode
	edges      []domain.Edge
	enthymemes []domain.Enthymeme
	questions  []domain.SocraticQuestion
	values     []domain.ExtractedValue

	claims  *mockClaimStore
	similar []domain.INodeWithScore
}

func newMockGraphStore() *mockGraphStore {
	return &mockGraphStore{
		inodes: make(map[uuid.UUID]*domain.INode),
		snodes: make(map[uuid.UUID]*domain.SNode),
	}
}

type mockGraphTx struct {
	g *mockGraphStore
}

func (m *mockGraphStore) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.HypergraphTx) error) error {
	return fn(ctx, &mockGraphTx{g: m})
}

func (t *mockGraphTx) DeleteRunData(ctx context.Context, runID uuid.UUID) error {
	for id, n := range t.g.inodes {
		if n.RunID == runID {
			if t.g.claims != nil {
				t.g.claims.removeLink(id)
			}
			delete(t.g.inodes, id)
		}
	}
	for id, sn := range t.g.snodes {
		if sn.RunID == runID {
			delete(t.g.snodes, id)
		}
	}
	keepEdges := t.g.edges[:0]
	for _, e := range t.g.edges {
		if e.RunID != runID {
			keepEdges = append(keepEdges, e)
		}
	}
	t.g.edges = keepEdges
	keepGhosts := t.g.enthymemes[:0]
	for _, g := range t.g.enthymemes {
		if g.RunID != runID {
			keepGhosts = append(keepGhosts, g)
		}
	}
	t.g.enthymemes = keepGhosts
	keepQuestions := t.g.questions[:0]
	for _, q := range t.g.questions {
		if q.RunID != runID {
			keepQuestions = append(keepQuestions, q)
		}
	}
	t.g.questions = keepQuestions
	keepValues := t.g.values[:0]
	for _, v := range t.g.values {
		if v.RunID != runID {
			keepValues = append(keepValues, v)
		}
	}
	t.g.values = keepValues
	return nil
}

func (t *mockGraphTx) InsertINode(ctx context.Context, n *domain.INode) error {
	n.ID = uuid.New()
	n.EvidenceRank = n.BaseWeight
	n.CreatedAt = time.Now()
	n.UpdatedAt = n.CreatedAt
	cp := *n
	t.g.inodes[n.ID] = &cp
	if t.g.claims != nil {
		t.g.claims.inodeSources[n.ID] = n.SourceRef
	}
	return nil
}

func (t *mockGraphTx) InsertSNode(ctx context.Context, sn *domain.SNode) error {
	sn.ID = uuid.New()
	if sn.EscrowStatus == "" {
		sn.EscrowStatus = domain.EscrowNone
	}
	sn.CreatedAt = time.Now()
	sn.UpdatedAt = sn.CreatedAt
	cp := *sn
	t.g.snodes[sn.ID] = &cp
	return nil
}

func (t *mockGraphTx) InsertEdge(ctx context.Context, e *domain.Edge) error {
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	t.g.edges = append(t.g.edges, *e)
	return nil
}

func (t *mockGraphTx) InsertEnthymeme(ctx context.Context, g *domain.Enthymeme) error {
	g.ID = uuid.New()
	if g.Status == "" {
		g.Status = domain.GhostPending
	}
	g.CreatedAt = time.Now()
	t.g.enthymemes = append(t.g.enthymemes, *g)
	return nil
}

func (t *mockGraphTx) InsertQuestion(ctx context.Context, q *domain.SocraticQuestion) error {
	q.ID = uuid.New()
	q.CreatedAt = time.Now()
	t.g.questions = append(t.g.questions, *q)
	return nil
}

func (t *mockGraphTx) InsertExtractedValue(ctx context.Context, v *domain.ExtractedValue) error {
	v.ID = uuid.New()
	v.CreatedAt = time.Now()
	t.g.values = append(t.g.values, *v)
	return nil
}

func (m *mockGraphStore) GetINode(ctx context.Context, id uuid.UUID) (*domain.INode, error) {
	n, ok := m.inodes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *mockGraphStore) GetSubgraph(ctx context.Context, sourceRef string) (*domain.Subgraph, error) {
	sg := &domain.Subgraph{}
	for _, n := range m.inodes {
		if n.SourceRef == sourceRef {
			sg.INodes = append(sg.INodes, *n)
		}
	}
	return sg, nil
}

func (m *mockGraphStore) GetThreadSubgraph(ctx context.Context, rootID uuid.UUID) (*domain.Subgraph, error) {
	sg := &domain.Subgraph{}
	for _, n := range m.inodes {
		if n.ComponentID != nil && *n.ComponentID == rootID {
			sg.INodes = append(sg.INodes, *n)
		}
	}
	return sg, nil
}

func (m *mockGraphStore) FindSimilarINodes(ctx context.Context, embedding []float32, threshold float32, limit int) ([]domain.INodeWithScore, error) {
	return m.similar, nil
}

func (m *mockGraphStore) GetSchemeConclusion(ctx context.Context, schemeID uuid.UUID) (*domain.INode, error) {
	for _, e := range m.edges {
		if e.SchemeID == schemeID && e.Role == domain.RoleConclusion && e.TargetINodeID != nil {
			return m.GetINode(ctx, *e.TargetINodeID)
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockGraphStore) GetSchemePremises(ctx context.Context, schemeID uuid.UUID) ([]domain.INode, error) {
	var premises []domain.INode
	for _, e := range m.edges {
		if e.SchemeID == schemeID && e.Role == domain.RolePremise && e.TargetINodeID != nil {
			if n, ok := m.inodes[*e.TargetINodeID]; ok {
				premises = append(premises, *n)
			}
		}
	}
	return premises, nil
}

func (m *mockGraphStore) ListByCreator(ctx context.Context, userID uuid.UUID) ([]domain.INode, error) {
	var nodes []domain.INode
	for _, n := range m.inodes {
		if n.CreatedBy != nil && *n.CreatedBy == userID {
			nodes = append(nodes, *n)
		}
	}
	return nodes, nil
}

func (m *mockGraphStore) ListAllINodes(ctx context.Context) ([]domain.INode, error) {
	var nodes []domain.INode
	for _, n := range m.inodes {
		nodes = append(nodes, *n)
	}
	return nodes, nil
}

func (m *mockGraphStore) ListAllSNodes(ctx context.Context) ([]domain.SNode, error) {
	var nodes []domain.SNode
	for _, sn := range m.snodes {
		nodes = append(nodes, *sn)
	}
	return nodes, nil
}

func (m *mockGraphStore) ListAllEdges(ctx context.Context) ([]domain.Edge, error) {
	return append([]domain.Edge(nil), m.edges...), nil
}

func (m *mockGraphStore) ListDefeatedINodeIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, n := range m.inodes {
		if n.IsDefeated {
			ids = append(ids, n.ID)
		}
	}
	return ids, nil
}

func (m *mockGraphStore) ApplyPropagation(ctx context.Context, updates []domain.PropagationUpdate) error {
	for _, u := range updates {
		n, ok := m.inodes[u.ID]
		if !ok {
			continue
		}
		n.EvidenceRank = u.EvidenceRank
		n.IsDefeated = u.IsDefeated
		n.ComponentID = u.ComponentID
	}
	return nil
}

func (m *mockGraphStore) MarkBridges(ctx context.Context, bridges []domain.BridgeUpdate) error {
	for _, b := range bridges {
		sn, ok := m.snodes[b.SchemeID]
		if !ok || sn.IsBridge {
			continue
		}
		a, bID := b.ComponentAID, b.ComponentBID
		sn.IsBridge = true
		sn.ComponentAID = &a
		sn.ComponentBID = &bID
	}
	return nil
}

// addINode and addScheme are test graph-building helpers.
func (m *mockGraphStore) addINode(n domain.INode) uuid.UUID {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.EvidenceRank == 0 && n.BaseWeight != 0 {
		n.EvidenceRank = n.BaseWeight
	}
	m.inodes[n.ID] = &n
	return n.ID
}

func (m *mockGraphStore) addScheme(sn domain.SNode, premises []uuid.UUID, conclusion uuid.UUID) uuid.UUID {
	if sn.ID == uuid.Nil {
		sn.ID = uuid.New()
	}
	if sn.EscrowStatus == "" {
		sn.EscrowStatus = domain.EscrowNone
	}
	m.snodes[sn.ID] = &sn
	for _, p := range premises {
		pid := p
		m.edges = append(m.edges, domain.Edge{ID: uuid.New(), RunID: sn.RunID, SchemeID: sn.ID, TargetINodeID: &pid, Role: domain.RolePremise})
	}
	cid := conclusion
	m.edges = append(m.edges, domain.Edge{ID: uuid.New(), RunID: sn.RunID, SchemeID: sn.ID, TargetINodeID: &cid, Role: domain.RoleConclusion})
	return sn.ID
}

// mockConceptStore implements domain.ConceptStore with naive cosine
// similarity over the stored embeddings.
type mockConceptStore struct {
	concepts map[uuid.UUID]*domain.ConceptNode
	bindings map[uuid.UUID][]domain.ConceptBinding
	flags    []domain.EquivocationFlag
}

func newMockConceptStore() *mockConceptStore {
	return &mockConceptStore{
		concepts: make(map[uuid.UUID]*domain.ConceptNode),
		bindings: make(map[uuid.UUID][]domain.ConceptBinding),
	}
}

func (m *mockConceptStore) Create(ctx context.Context, c *domain.ConceptNode) error {
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	cp := *c
	m.concepts[c.ID] = &cp
	return nil
}

func (m *mockConceptStore) FindSimilar(ctx context.Context, embedding []float32, threshold float32, limit int) ([]domain.ConceptWithScore, error) {
	var results []domain.ConceptWithScore
	for _, c := range m.concepts {
		score := cosine(embedding, c.Embedding)
		if score >= threshold {
			results = append(results, domain.ConceptWithScore{ConceptNode: *c, Score: score})
		}
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (m *mockConceptStore) BindTerm(ctx context.Context, b *domain.ConceptBinding) error {
	for _, existing := range m.bindings[b.INodeID] {
		if existing.Term == b.Term {
			return nil
		}
	}
	b.CreatedAt = time.Now()
	m.bindings[b.INodeID] = append(m.bindings[b.INodeID], *b)
	return nil
}

func (m *mockConceptStore) GetBindings(ctx context.Context, inodeID uuid.UUID) ([]domain.ConceptBinding, error) {
	return append([]domain.ConceptBinding(nil), m.bindings[inodeID]...), nil
}

func (m *mockConceptStore) RecordEquivocation(ctx context.Context, f *domain.EquivocationFlag) error {
	for _, existing := range m.flags {
		if existing.SchemeID == f.SchemeID && existing.Term == f.Term {
			return nil
		}
	}
	f.ID = uuid.New()
	f.CreatedAt = time.Now()
	m.flags = append(m.flags, *f)
	return nil
}

func (m *mockConceptStore) ListEquivocations(ctx context.Context, schemeID uuid.UUID) ([]domain.EquivocationFlag, error) {
	var flags []domain.EquivocationFlag
	for _, f := range m.flags {
		if f.SchemeID == schemeID {
			flags = append(flags, f)
		}
	}
	return flags, nil
}

// mockClaimStore implements domain.ClaimStore. inodeSources supplies the
// inode -> source_ref join the real store does against the inodes table.
type mockClaimStore struct {
	claims       map[uuid.UUID]*domain.CanonicalClaim
	links        map[uuid.UUID]domain.ClaimLink
	inodeSources map[uuid.UUID]string
}

func newMockClaimStore() *mockClaimStore {
	return &mockClaimStore{
		claims:       make(map[uuid.UUID]*domain.CanonicalClaim),
		links:        make(map[uuid.UUID]domain.ClaimLink),
		inodeSources: make(map[uuid.UUID]string),
	}
}

func (m *mockClaimStore) FindSimilar(ctx context.Context, embedding []float32, threshold float32, limit int) ([]domain.ClaimWithScore, error) {
	var results []domain.ClaimWithScore
	for _, c := range m.claims {
		score := cosine(embedding, c.Embedding)
		if score >= threshold {
			results = append(results, domain.ClaimWithScore{CanonicalClaim: *c, Score: score})
		}
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (m *mockClaimStore) CreateWithLink(ctx context.Context, c *domain.CanonicalClaim, link *domain.ClaimLink) error {
	c.ID = uuid.New()
	c.ADUCount = 1
	c.DiscussionCount = 1
	cp := *c
	m.claims[c.ID] = &cp
	link.ClaimID = c.ID
	m.links[link.INodeID] = *link
	return nil
}

func (m *mockClaimStore) LinkAndIncrement(ctx context.Context, link *domain.ClaimLink, newDiscussion bool) error {
	if _, exists := m.links[link.INodeID]; exists {
		return nil
	}
	m.links[link.INodeID] = *link
	c := m.claims[link.ClaimID]
	c.ADUCount++
	if newDiscussion {
		c.DiscussionCount++
	}
	return nil
}

// removeLink drops an inode's claim link and pulls its weight out of the
// claim aggregates, the same retraction DeleteRunData performs in SQL.
func (m *mockClaimStore) removeLink(inodeID uuid.UUID) {
	link, ok := m.links[inodeID]
	if !ok {
		return
	}
	source := m.inodeSources[inodeID]
	delete(m.links, inodeID)
	delete(m.inodeSources, inodeID)

	c, ok := m.claims[link.ClaimID]
	if !ok {
		return
	}
	if c.ADUCount > 0 {
		c.ADUCount--
	}
	for otherID, other := range m.links {
		if other.ClaimID == link.ClaimID && m.inodeSources[otherID] == source {
			return
		}
	}
	if c.DiscussionCount > 0 {
		c.DiscussionCount--
	}
}

func (m *mockClaimStore) HasLinkFromSource(ctx context.Context, claimID uuid.UUID, sourceRef string) (bool, error) {
	for inodeID, link := range m.links {
		if link.ClaimID == claimID && m.inodeSources[inodeID] == sourceRef {
			return true, nil
		}
	}
	return false, nil
}

// mockSourceStore implements domain.SourceStore.
type mockSourceStore struct {
	byRef      map[string]*domain.Source
	recomputed int64
}

func newMockSourceStore() *mockSourceStore {
	return &mockSourceStore{byRef: make(map[string]*domain.Source)}
}

func (m *mockSourceStore) GetOrCreate(ctx context.Context, ref string) (*domain.Source, error) {
	if s, ok := m.byRef[ref]; ok {
		cp := *s
		return &cp, nil
	}
	s := &domain.Source{ID: uuid.New(), Ref: ref}
	m.byRef[ref] = s
	cp := *s
	return &cp, nil
}

func (m *mockSourceStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Source, error) {
	for _, s := range m.byRef {
		if s.ID == id {
			cp := *s
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockSourceStore) SetApproval(ctx context.Context, id uuid.UUID, score float32) error {
	for _, s := range m.byRef {
		if s.ID == id {
			s.ApprovalScore = score
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *mockSourceStore) RecomputeReputation(ctx context.Context) (int64, error) {
	m.recomputed++
	return m.recomputed, nil
}

// mockEscrowStore implements domain.EscrowStore over shared SNode values.
type mockEscrowStore struct {
	snodes map[uuid.UUID]*domain.SNode
}

func newMockEscrowStore() *mockEscrowStore {
	return &mockEscrowStore{snodes: make(map[uuid.UUID]*domain.SNode)}
}

func (m *mockEscrowStore) Stake(ctx context.Context, schemeID, userID uuid.UUID, amount int64, expiresAt time.Time) error {
	sn, ok := m.snodes[schemeID]
	if !ok {
		return store.ErrNotFound
	}
	if sn.EscrowStatus != domain.EscrowNone {
		return store.ErrInvalidTransition
	}
	sn.EscrowStatus = domain.EscrowActive
	sn.PendingBounty = amount
	sn.EscrowExpiresAt = &expiresAt
	sn.EscrowStakedBy = &userID
	return nil
}

func (m *mockEscrowStore) Resolve(ctx context.Context, schemeID uuid.UUID, status domain.EscrowStatus) error {
	sn, ok := m.snodes[schemeID]
	if !ok {
		return store.ErrNotFound
	}
	if sn.EscrowStatus != domain.EscrowActive || !domain.EscrowCanTransition(domain.EscrowActive, status) {
		return store.ErrInvalidTransition
	}
	sn.EscrowStatus = status
	return nil
}

func (m *mockEscrowStore) ListActive(ctx context.Context) ([]domain.SNode, error) {
	var nodes []domain.SNode
	for _, sn := range m.snodes {
		if sn.EscrowStatus == domain.EscrowActive {
			nodes = append(nodes, *sn)
		}
	}
	return nodes, nil
}

func (m *mockEscrowStore) ListPending(ctx context.Context, limit, offset int) ([]domain.SNode, error) {
	return m.ListActive(ctx)
}

// mockKarmaStore implements domain.KarmaStore.
type mockKarmaStore struct {
	profiles map[uuid.UUID]*domain.KarmaProfile
	daily    []domain.DailyYield
}

func newMockKarmaStore() *mockKarmaStore {
	return &mockKarmaStore{profiles: make(map[uuid.UUID]*domain.KarmaProfile)}
}

func (m *mockKarmaStore) ApplyYields(ctx context.Context, day time.Time, yields []domain.KarmaYield) error {
	day = day.UTC().Truncate(24 * time.Hour)
	for _, y := range yields {
		p, ok := m.profiles[y.UserID]
		if !ok {
			p = &domain.KarmaProfile{UserID: y.UserID}
			m.profiles[y.UserID] = p
		}
		d := domain.DailyYield{UserID: y.UserID, Day: day}
		switch y.Role {
		case domain.RolePioneer:
			p.PioneerLifetime += y.Amount
			d.Pioneer = y.Amount
		case domain.RoleBuilder:
			p.BuilderLifetime += y.Amount
			d.Builder = y.Amount
		case domain.RoleCritic:
			p.CriticLifetime += y.Amount
			d.Critic = y.Amount
		}
		m.daily = append(m.daily, d)
	}
	return nil
}

func (m *mockKarmaStore) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.KarmaProfile, error) {
	p, ok := m.profiles[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockKarmaStore) GetDailyYields(ctx context.Context, userID uuid.UUID, since time.Time) ([]domain.DailyYield, error) {
	var yields []domain.DailyYield
	for _, d := range m.daily {
		if d.UserID == userID && !d.Day.Before(since) {
			yields = append(yields, d)
		}
	}
	return yields, nil
}

// mockNotificationStore implements domain.NotificationStore.
type mockNotificationStore struct {
	notices []domain.Notification
}

func newMockNotificationStore() *mockNotificationStore {
	return &mockNotificationStore{}
}

func (m *mockNotificationStore) Create(ctx context.Context, n *domain.Notification) error {
	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	m.notices = append(m.notices, *n)
	return nil
}

func (m *mockNotificationStore) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Notification, error) {
	var notices []domain.Notification
	for _, n := range m.notices {
		if n.UserID == userID {
			notices = append(notices, n)
		}
	}
	return notices, nil
}
