package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/argumentlab/dialectic/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

type HypergraphStore struct {
	db *pgxpool.Pool
}

func NewHypergraphStore(db *pgxpool.Pool) *HypergraphStore {
	return &HypergraphStore{db: db}
}

// hypergraphTx implements domain.HypergraphTx over one pgx transaction.
type hypergraphTx struct {
	tx pgx.Tx
}

// InTx runs fn in a single transaction. Any error from fn (or commit)
// rolls back every write made through the tx.
func (s *HypergraphStore) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.HypergraphTx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ingest tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &hypergraphTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ingest tx: %w", err)
	}
	return nil
}

// DeleteRunData removes every row previously persisted for the run.
// Cascading FKs take edges, ghosts, questions, and values with the nodes.
// Canonical-claim aggregates are decremented for the cascaded links first,
// so a superseding re-ingest re-counts from a clean slate.
func (t *hypergraphTx) DeleteRunData(ctx context.Context, runID uuid.UUID) error {
	if _, err := t.tx.Exec(ctx,
		`UPDATE canonical_claims c
		 SET discussion_count = GREATEST(c.discussion_count - 1, 0), updated_at = NOW()
		 FROM (
			SELECT DISTINCT ic.claim_id, i.source_ref
			FROM inode_claims ic
			JOIN inodes i ON i.id = ic.inode_id
			WHERE i.run_id = $1
		 ) gone
		 WHERE c.id = gone.claim_id
		   AND NOT EXISTS (
			SELECT 1 FROM inode_claims ic2
			JOIN inodes i2 ON i2.id = ic2.inode_id
			WHERE ic2.claim_id = gone.claim_id
			  AND i2.source_ref = gone.source_ref
			  AND i2.run_id <> $1
		   )`, runID); err != nil {
		return fmt.Errorf("decrement claim discussions for run: %w", err)
	}
	if _, err := t.tx.Exec(ctx,
		`UPDATE canonical_claims c
		 SET adu_count = GREATEST(c.adu_count - gone.n, 0), updated_at = NOW()
		 FROM (
			SELECT ic.claim_id, COUNT(*) AS n
			FROM inode_claims ic
			JOIN inodes i ON i.id = ic.inode_id
			WHERE i.run_id = $1
			GROUP BY ic.claim_id
		 ) gone
		 WHERE c.id = gone.claim_id`, runID); err != nil {
		return fmt.Errorf("decrement claim counts for run: %w", err)
	}

	for _, table := range []string{"edges", "enthymemes", "socratic_questions", "extracted_values", "snodes", "inodes"} {
		if _, err := t.tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE run_id = $1`, table), runID); err != nil {
			return fmt.Errorf("delete %s for run: %w", table, err)
		}
	}
	return nil
}

func (t *hypergraphTx) InsertINode(ctx context.Context, n *domain.INode) error {
	var embedding *pgvector.Vector
	if len(n.Embedding) > 0 {
		v := pgvector.NewVector(n.Embedding)
		embedding = &v
	}
	return t.tx.QueryRow(ctx,
		`INSERT INTO inodes (run_id, source_ref, engine_id, epistemic_type, text, resolved_text, confidence, span_start, span_end, embedding, base_weight, evidence_rank, node_role, created_by, cited_source_id)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $11, NULLIF($12, ''), $13, $14)
		 RETURNING id, created_at, updated_at`,
		n.RunID, n.SourceRef, n.EngineID, n.EpistemicType, n.Text, n.ResolvedText,
		n.Confidence, n.SpanStart, n.SpanEnd, embedding, n.BaseWeight,
		string(n.NodeRole), n.CreatedBy, n.CitedSourceID,
	).Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt)
}

func (t *hypergraphTx) InsertSNode(ctx context.Context, sn *domain.SNode) error {
	if sn.EscrowStatus == "" {
		sn.EscrowStatus = domain.EscrowNone
	}
	return t.tx.QueryRow(ctx,
		`INSERT INTO snodes (run_id, engine_id, direction, confidence, gap_detected, fallacy, escrow_status, created_by)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
		 RETURNING id, created_at, updated_at`,
		sn.RunID, sn.EngineID, sn.Direction, sn.Confidence, sn.GapDetected, sn.Fallacy, sn.EscrowStatus, sn.CreatedBy,
	).Scan(&sn.ID, &sn.CreatedAt, &sn.UpdatedAt)
}

func (t *hypergraphTx) InsertEdge(ctx context.Context, e *domain.Edge) error {
	return t.tx.QueryRow(ctx,
		`INSERT INTO edges (run_id, scheme_id, target_inode_id, target_ghost_id, role)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		e.RunID, e.SchemeID, e.TargetINodeID, e.TargetGhostID, e.Role,
	).Scan(&e.ID, &e.CreatedAt)
}

func (t *hypergraphTx) InsertEnthymeme(ctx context.Context, g *domain.Enthymeme) error {
	if g.Status == "" {
		g.Status = domain.GhostPending
	}
	return t.tx.QueryRow(ctx,
		`INSERT INTO enthymemes (run_id, scheme_id, text, epistemic_type, probability, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		g.RunID, g.SchemeID, g.Text, g.EpistemicType, g.Probability, g.Status,
	).Scan(&g.ID, &g.CreatedAt)
}

func (t *hypergraphTx) InsertQuestion(ctx context.Context, q *domain.SocraticQuestion) error {
	return t.tx.QueryRow(ctx,
		`INSERT INTO socratic_questions (run_id, scheme_id, uncertainty_level, question)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		q.RunID, q.SchemeID, q.UncertaintyLevel, q.Question,
	).Scan(&q.ID, &q.CreatedAt)
}

func (t *hypergraphTx) InsertExtractedValue(ctx context.Context, v *domain.ExtractedValue) error {
	var embedding *pgvector.Vector
	if len(v.Embedding) > 0 {
		vec := pgvector.NewVector(v.Embedding)
		embedding = &vec
	}
	return t.tx.QueryRow(ctx,
		`INSERT INTO extracted_values (run_id, inode_id, text, embedding)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		v.RunID, v.INodeID, v.Text, embedding,
	).Scan(&v.ID, &v.CreatedAt)
}

const inodeColumns = `id, run_id, source_ref, engine_id, epistemic_type, text, COALESCE(resolved_text, ''), confidence, span_start, span_end, base_weight, evidence_rank, is_defeated, component_id, COALESCE(node_role, ''), created_by, cited_source_id, created_at, updated_at`

func scanINode(row pgx.Row) (*domain.INode, error) {
	n := &domain.INode{}
	err := row.Scan(&n.ID, &n.RunID, &n.SourceRef, &n.EngineID, &n.EpistemicType, &n.Text, &n.ResolvedText,
		&n.Confidence, &n.SpanStart, &n.SpanEnd, &n.BaseWeight, &n.EvidenceRank, &n.IsDefeated,
		&n.ComponentID, &n.NodeRole, &n.CreatedBy, &n.CitedSourceID, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (s *HypergraphStore) GetINode(ctx context.Context, id uuid.UUID) (*domain.INode, error) {
	n, err := scanINode(s.db.QueryRow(ctx,
		`SELECT `+inodeColumns+` FROM inodes WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return n, nil
}

func (s *HypergraphStore) collectINodes(ctx context.Context, query string, args ...any) ([]domain.INode, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []domain.INode
	for rows.Next() {
		n, err := scanINode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inode: %w", err)
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}

const snodeColumns = `id, run_id, engine_id, direction, confidence, gap_detected, COALESCE(fallacy, ''), escrow_status, pending_bounty, escrow_expires_at, escrow_staked_by, is_bridge, component_a_id, component_b_id, created_by, created_at, updated_at`

func scanSNode(row pgx.Row) (*domain.SNode, error) {
	sn := &domain.SNode{}
	err := row.Scan(&sn.ID, &sn.RunID, &sn.EngineID, &sn.Direction, &sn.Confidence, &sn.GapDetected,
		&sn.Fallacy, &sn.EscrowStatus, &sn.PendingBounty, &sn.EscrowExpiresAt, &sn.EscrowStakedBy,
		&sn.IsBridge, &sn.ComponentAID, &sn.ComponentBID, &sn.CreatedBy, &sn.CreatedAt, &sn.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return sn, nil
}

func (s *HypergraphStore) collectSNodes(ctx context.Context, query string, args ...any) ([]domain.SNode, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []domain.SNode
	for rows.Next() {
		sn, err := scanSNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snode: %w", err)
		}
		nodes = append(nodes, *sn)
	}
	return nodes, rows.Err()
}

// GetSubgraph returns everything persisted for a content source, for
// rendering. Reads the latest committed snapshot; propagation results may
// be up to one batch cycle stale.
func (s *HypergraphStore) GetSubgraph(ctx context.Context, sourceRef string) (*domain.Subgraph, error) {
	inodes, err := s.collectINodes(ctx,
		`SELECT `+inodeColumns+` FROM inodes WHERE source_ref = $1 ORDER BY span_start`, sourceRef)
	if err != nil {
		return nil, fmt.Errorf("subgraph inodes: %w", err)
	}
	snodes, err := s.collectSNodes(ctx,
		`SELECT `+snodeColumns+` FROM snodes
		 WHERE run_id IN (SELECT DISTINCT run_id FROM inodes WHERE source_ref = $1)`, sourceRef)
	if err != nil {
		return nil, fmt.Errorf("subgraph snodes: %w", err)
	}
	return s.fillSubgraphRelations(ctx, &domain.Subgraph{INodes: inodes, SNodes: snodes})
}

// GetThreadSubgraph returns the connected component containing the root
// I-Node, as of the last propagation run.
func (s *HypergraphStore) GetThreadSubgraph(ctx context.Context, rootID uuid.UUID) (*domain.Subgraph, error) {
	root, err := s.GetINode(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if root.ComponentID == nil {
		return s.fillSubgraphRelations(ctx, &domain.Subgraph{INodes: []domain.INode{*root}})
	}
	inodes, err := s.collectINodes(ctx,
		`SELECT `+inodeColumns+` FROM inodes WHERE component_id = $1`, root.ComponentID)
	if err != nil {
		return nil, fmt.Errorf("thread inodes: %w", err)
	}
	snodes, err := s.collectSNodes(ctx,
		`SELECT `+snodeColumns+` FROM snodes WHERE id IN (
		   SELECT DISTINCT scheme_id FROM edges
		   WHERE target_inode_id IN (SELECT id FROM inodes WHERE component_id = $1))`, root.ComponentID)
	if err != nil {
		return nil, fmt.Errorf("thread snodes: %w", err)
	}
	return s.fillSubgraphRelations(ctx, &domain.Subgraph{INodes: inodes, SNodes: snodes})
}

func (s *HypergraphStore) fillSubgraphRelations(ctx context.Context, sg *domain.Subgraph) (*domain.Subgraph, error) {
	schemeIDs := make([]uuid.UUID, 0, len(sg.SNodes))
	for _, sn := range sg.SNodes {
		schemeIDs = append(schemeIDs, sn.ID)
	}
	inodeIDs := make([]uuid.UUID, 0, len(sg.INodes))
	for _, n := range sg.INodes {
		inodeIDs = append(inodeIDs, n.ID)
	}

	if len(schemeIDs) > 0 {
		rows, err := s.db.Query(ctx,
			`SELECT id, run_id, scheme_id, target_inode_id, target_ghost_id, role, created_at
			 FROM edges WHERE scheme_id = ANY($1)`, schemeIDs)
		if err != nil {
			return nil, fmt.Errorf("subgraph edges: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var e domain.Edge
			if err := rows.Scan(&e.ID, &e.RunID, &e.SchemeID, &e.TargetINodeID, &e.TargetGhostID, &e.Role, &e.CreatedAt); err != nil {
				return nil, fmt.Errorf("scan edge: %w", err)
			}
			sg.Edges = append(sg.Edges, e)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}

		grows, err := s.db.Query(ctx,
			`SELECT id, run_id, scheme_id, text, epistemic_type, probability, status, created_at
			 FROM enthymemes WHERE scheme_id = ANY($1)`, schemeIDs)
		if err != nil {
			return nil, fmt.Errorf("subgraph enthymemes: %w", err)
		}
		defer grows.Close()
		for grows.Next() {
			var g domain.Enthymeme
			if err := grows.Scan(&g.ID, &g.RunID, &g.SchemeID, &g.Text, &g.EpistemicType, &g.Probability, &g.Status, &g.CreatedAt); err != nil {
				return nil, fmt.Errorf("scan enthymeme: %w", err)
			}
			sg.Enthymemes = append(sg.Enthymemes, g)
		}
		if err := grows.Err(); err != nil {
			return nil, err
		}

		qrows, err := s.db.Query(ctx,
			`SELECT id, run_id, scheme_id, uncertainty_level, question, COALESCE(resolving_reply, ''), created_at
			 FROM socratic_questions WHERE scheme_id = ANY($1)`, schemeIDs)
		if err != nil {
			return nil, fmt.Errorf("subgraph questions: %w", err)
		}
		defer qrows.Close()
		for qrows.Next() {
			var q domain.SocraticQuestion
			if err := qrows.Scan(&q.ID, &q.RunID, &q.SchemeID, &q.UncertaintyLevel, &q.Question, &q.ResolvingReply, &q.CreatedAt); err != nil {
				return nil, fmt.Errorf("scan question: %w", err)
			}
			sg.Questions = append(sg.Questions, q)
		}
		if err := qrows.Err(); err != nil {
			return nil, err
		}
	}

	if len(inodeIDs) > 0 {
		vrows, err := s.db.Query(ctx,
			`SELECT id, run_id, inode_id, text, created_at
			 FROM extracted_values WHERE inode_id = ANY($1)`, inodeIDs)
		if err != nil {
			return nil, fmt.Errorf("subgraph values: %w", err)
		}
		defer vrows.Close()
		for vrows.Next() {
			var v domain.ExtractedValue
			if err := vrows.Scan(&v.ID, &v.RunID, &v.INodeID, &v.Text, &v.CreatedAt); err != nil {
				return nil, fmt.Errorf("scan extracted value: %w", err)
			}
			sg.Values = append(sg.Values, v)
		}
		if err := vrows.Err(); err != nil {
			return nil, err
		}
	}

	return sg, nil
}

// FindSimilarINodes over-fetches by distance order and filters by
// threshold in application code, which composes better with approximate
// nearest-neighbor indexes than filtering in the query.
func (s *HypergraphStore) FindSimilarINodes(ctx context.Context, embedding []float32, threshold float32, limit int) ([]domain.INodeWithScore, error) {
	if limit <= 0 {
		limit = 10
	}
	vec := pgvector.NewVector(embedding)

	rows, err := s.db.Query(ctx,
		`SELECT `+inodeColumns+`, 1 - (embedding <=> $1) AS score
		 FROM inodes
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		vec, limit*overfetchFactor,
	)
	if err != nil {
		return nil, fmt.Errorf("find similar inodes query: %w", err)
	}
	defer rows.Close()

	var results []domain.INodeWithScore
	for rows.Next() {
		var ns domain.INodeWithScore
		err := rows.Scan(&ns.ID, &ns.RunID, &ns.SourceRef, &ns.EngineID, &ns.EpistemicType, &ns.Text, &ns.ResolvedText,
			&ns.Confidence, &ns.SpanStart, &ns.SpanEnd, &ns.BaseWeight, &ns.EvidenceRank, &ns.IsDefeated,
			&ns.ComponentID, &ns.NodeRole, &ns.CreatedBy, &ns.CitedSourceID, &ns.CreatedAt, &ns.UpdatedAt, &ns.Score)
		if err != nil {
			return nil, fmt.Errorf("scan similar inode: %w", err)
		}
		if ns.Score < threshold {
			continue
		}
		results = append(results, ns)
		if len(results) >= limit {
			break
		}
	}
	return results, rows.Err()
}

func (s *HypergraphStore) GetSchemeConclusion(ctx context.Context, schemeID uuid.UUID) (*domain.INode, error) {
	n, err := scanINode(s.db.QueryRow(ctx,
		`SELECT `+inodeColumns+` FROM inodes
		 WHERE id = (SELECT target_inode_id FROM edges WHERE scheme_id = $1 AND role = 'conclusion' AND target_inode_id IS NOT NULL LIMIT 1)`,
		schemeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return n, nil
}

func (s *HypergraphStore) GetSchemePremises(ctx context.Context, schemeID uuid.UUID) ([]domain.INode, error) {
	return s.collectINodes(ctx,
		`SELECT `+inodeColumns+` FROM inodes
		 WHERE id IN (SELECT target_inode_id FROM edges WHERE scheme_id = $1 AND role = 'premise' AND target_inode_id IS NOT NULL)`,
		schemeID)
}

func (s *HypergraphStore) ListByCreator(ctx context.Context, userID uuid.UUID) ([]domain.INode, error) {
	return s.collectINodes(ctx,
		`SELECT `+inodeColumns+` FROM inodes WHERE created_by = $1 ORDER BY created_at DESC`, userID)
}

func (s *HypergraphStore) ListAllINodes(ctx context.Context) ([]domain.INode, error) {
	return s.collectINodes(ctx, `SELECT `+inodeColumns+` FROM inodes`)
}

func (s *HypergraphStore) ListAllSNodes(ctx context.Context) ([]domain.SNode, error) {
	return s.collectSNodes(ctx, `SELECT `+snodeColumns+` FROM snodes`)
}

func (s *HypergraphStore) ListAllEdges(ctx context.Context) ([]domain.Edge, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, run_id, scheme_id, target_inode_id, target_ghost_id, role, created_at FROM edges`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []domain.Edge
	for rows.Next() {
		var e domain.Edge
		if err := rows.Scan(&e.ID, &e.RunID, &e.SchemeID, &e.TargetINodeID, &e.TargetGhostID, &e.Role, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// ListDefeatedINodeIDs snapshots the defeated set. Propagation calls this
// before any mutation so the flip diff is race-free.
func (s *HypergraphStore) ListDefeatedINodeIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM inodes WHERE is_defeated`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ApplyPropagation persists rank/defeat/component updates as one batched
// round trip inside a single transaction, so a crash mid-batch leaves the
// previous snapshot intact.
func (s *HypergraphStore) ApplyPropagation(ctx context.Context, updates []domain.PropagationUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin propagation tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(
			`UPDATE inodes SET evidence_rank = $1, is_defeated = $2, component_id = $3, updated_at = NOW() WHERE id = $4`,
			u.EvidenceRank, u.IsDefeated, u.ComponentID, u.ID,
		)
	}
	br := tx.SendBatch(ctx, batch)
	for range updates {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("apply propagation update: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close propagation batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit propagation tx: %w", err)
	}
	return nil
}

// MarkBridges writes bridge metadata once per scheme; an existing flag is
// never overwritten.
func (s *HypergraphStore) MarkBridges(ctx context.Context, bridges []domain.BridgeUpdate) error {
	if len(bridges) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, b := range bridges {
		batch.Queue(
			`UPDATE snodes SET is_bridge = TRUE, component_a_id = $1, component_b_id = $2, updated_at = NOW()
			 WHERE id = $3 AND NOT is_bridge`,
			b.ComponentAID, b.ComponentBID, b.SchemeID,
		)
	}
	br := s.db.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()
	for range bridges {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("mark bridge: %w", err)
		}
	}
	return nil
}
