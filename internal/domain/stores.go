package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type RunStore interface {
	Create(ctx context.Context, r *AnalysisRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*AnalysisRun, error)
	GetBySourceAndHash(ctx context.Context, sourceRef, contentHash string) (*AnalysisRun, error)
	// ClaimForProcessing atomically moves a run into processing; a run
	// already held by another worker fails the claim.
	ClaimForProcessing(ctx context.Context, id uuid.UUID) error
	SetStatus(ctx context.Context, id uuid.UUID, status RunStatus, errMsg string) error
	// ReclaimStale moves runs stuck in processing longer than the window
	// back to pending and returns how many were reclaimed.
	ReclaimStale(ctx context.Context, window time.Duration) (int64, error)
}

// HypergraphTx is the write surface available inside one ingestion
// transaction. Insert methods assign the entity's durable id.
type HypergraphTx interface {
	DeleteRunData(ctx context.Context, runID uuid.UUID) error
	InsertINode(ctx context.Context, n *INode) error
	InsertSNode(ctx context.Context, s *SNode) error
	InsertEdge(ctx context.Context, e *Edge) error
	InsertEnthymeme(ctx context.Context, g *Enthymeme) error
	InsertQuestion(ctx context.Context, q *SocraticQuestion) error
	InsertExtractedValue(ctx context.Context, v *ExtractedValue) error
}

// Subgraph is the full render payload for one content source or thread.
type Subgraph struct {
	INodes     []INode            `json:"inodes"`
	SNodes     []SNode            `json:"snodes"`
	Edges      []Edge             `json:"edges"`
	Enthymemes []Enthymeme        `json:"enthymemes"`
	Questions  []SocraticQuestion `json:"questions"`
	Values     []ExtractedValue   `json:"values"`
}

type INodeWithScore struct {
	INode
	Score float32 `json:"score"`
}

// PropagationUpdate carries one node's recomputed propagation state.
type PropagationUpdate struct {
	ID           uuid.UUID
	EvidenceRank float32
	IsDefeated   bool
	ComponentID  *uuid.UUID
}

// BridgeUpdate flags a scheme as the first link between two previously
// disconnected components.
type BridgeUpdate struct {
	SchemeID     uuid.UUID
	ComponentAID uuid.UUID
	ComponentBID uuid.UUID
}

type HypergraphStore interface {
	// InTx runs fn inside a single transaction; any error aborts the
	// whole batch.
	InTx(ctx context.Context, fn func(ctx context.Context, tx HypergraphTx) error) error

	GetINode(ctx context.Context, id uuid.UUID) (*INode, error)
	GetSubgraph(ctx context.Context, sourceRef string) (*Subgraph, error)
	GetThreadSubgraph(ctx context.Context, rootID uuid.UUID) (*Subgraph, error)
	FindSimilarINodes(ctx context.Context, embedding []float32, threshold float32, limit int) ([]INodeWithScore, error)

	GetSchemeConclusion(ctx context.Context, schemeID uuid.UUID) (*INode, error)
	GetSchemePremises(ctx context.Context, schemeID uuid.UUID) ([]INode, error)
	ListByCreator(ctx context.Context, userID uuid.UUID) ([]INode, error)

	// Whole-graph loads and set-based writes for the propagation batch.
	ListAllINodes(ctx context.Context) ([]INode, error)
	ListAllSNodes(ctx context.Context) ([]SNode, error)
	ListAllEdges(ctx context.Context) ([]Edge, error)
	ListDefeatedINodeIDs(ctx context.Context) ([]uuid.UUID, error)
	ApplyPropagation(ctx context.Context, updates []PropagationUpdate) error
	MarkBridges(ctx context.Context, bridges []BridgeUpdate) error
}

type ConceptWithScore struct {
	ConceptNode
	Score float32 `json:"score"`
}

type ConceptStore interface {
	Create(ctx context.Context, c *ConceptNode) error
	FindSimilar(ctx context.Context, embedding []float32, threshold float32, limit int) ([]ConceptWithScore, error)
	// BindTerm is idempotent on (inode, term).
	BindTerm(ctx context.Context, b *ConceptBinding) error
	GetBindings(ctx context.Context, inodeID uuid.UUID) ([]ConceptBinding, error)
	// RecordEquivocation is idempotent on (scheme, term).
	RecordEquivocation(ctx context.Context, f *EquivocationFlag) error
	ListEquivocations(ctx context.Context, schemeID uuid.UUID) ([]EquivocationFlag, error)
}

type ClaimWithScore struct {
	CanonicalClaim
	Score float32 `json:"score"`
}

type ClaimStore interface {
	FindSimilar(ctx context.Context, embedding []float32, threshold float32, limit int) ([]ClaimWithScore, error)
	// CreateWithLink mints a canonical claim and its first link atomically.
	CreateWithLink(ctx context.Context, c *CanonicalClaim, link *ClaimLink) error
	// LinkAndIncrement records a link and bumps the claim's aggregate
	// counts in the same transaction.
	LinkAndIncrement(ctx context.Context, link *ClaimLink, newDiscussion bool) error
	// HasLinkFromSource reports whether any I-Node from the content
	// source already links to the claim.
	HasLinkFromSource(ctx context.Context, claimID uuid.UUID, sourceRef string) (bool, error)
}

type SourceStore interface {
	GetOrCreate(ctx context.Context, ref string) (*Source, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Source, error)
	SetApproval(ctx context.Context, id uuid.UUID, score float32) error
	// RecomputeReputation rolls citing FACT claims' evidence rank into
	// total and surviving reputation for every source, set-based.
	RecomputeReputation(ctx context.Context) (int64, error)
}

type EscrowStore interface {
	// Stake moves a scheme's escrow none -> active.
	Stake(ctx context.Context, schemeID, userID uuid.UUID, amount int64, expiresAt time.Time) error
	// Resolve moves an active escrow to a terminal status.
	Resolve(ctx context.Context, schemeID uuid.UUID, status EscrowStatus) error
	ListActive(ctx context.Context) ([]SNode, error)
	ListPending(ctx context.Context, limit, offset int) ([]SNode, error)
}

type KarmaStore interface {
	// ApplyYields applies per-user increments as atomic counter updates
	// and rolls them into the day's snapshot rows.
	ApplyYields(ctx context.Context, day time.Time, yields []KarmaYield) error
	GetProfile(ctx context.Context, userID uuid.UUID) (*KarmaProfile, error)
	GetDailyYields(ctx context.Context, userID uuid.UUID, since time.Time) ([]DailyYield, error)
}

type NotificationStore interface {
	Create(ctx context.Context, n *Notification) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Notification, error)
}
