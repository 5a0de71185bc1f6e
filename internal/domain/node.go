package domain

import (
	"time"

	"github.com/google/uuid"
)

type EpistemicType string

const (
	EpistemicFact   EpistemicType = "FACT"
	EpistemicValue  EpistemicType = "VALUE"
	EpistemicPolicy EpistemicType = "POLICY"
)

func ValidEpistemicType(t string) bool {
	switch EpistemicType(t) {
	case EpistemicFact, EpistemicValue, EpistemicPolicy:
		return true
	}
	return false
}

type NodeRole string

const (
	RolePioneer NodeRole = "pioneer"
	RoleBuilder NodeRole = "builder"
	RoleCritic  NodeRole = "critic"
)

func ValidNodeRole(r string) bool {
	switch NodeRole(r) {
	case RolePioneer, RoleBuilder, RoleCritic:
		return true
	}
	return false
}

// INode is an extracted claim or premise. Rank, defeat, and component fields
// are computed by the propagation engine; everything else is set at ingestion.
// I-Nodes are never deleted, only superseded by re-ingestion of their run.
type INode struct {
	ID            uuid.UUID     `json:"id"`
	RunID         uuid.UUID     `json:"run_id"`
	SourceRef     string        `json:"source_ref"`
	EngineID      string        `json:"engine_id"`
	EpistemicType EpistemicType `json:"epistemic_type"`
	Text          string        `json:"text"`
	ResolvedText  string        `json:"resolved_text,omitempty"`
	Confidence    float32       `json:"confidence"`
	SpanStart     int           `json:"span_start"`
	SpanEnd       int           `json:"span_end"`
	Embedding     []float32     `json:"-"`
	BaseWeight    float32       `json:"base_weight"`
	EvidenceRank  float32       `json:"evidence_rank"`
	IsDefeated    bool          `json:"is_defeated"`
	ComponentID   *uuid.UUID    `json:"component_id,omitempty"`
	NodeRole      NodeRole      `json:"node_role,omitempty"`
	CreatedBy     *uuid.UUID    `json:"created_by,omitempty"`
	CitedSourceID *uuid.UUID    `json:"cited_source_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type SchemeDirection string

const (
	DirectionSupport SchemeDirection = "SUPPORT"
	DirectionAttack  SchemeDirection = "ATTACK"
)

func ValidSchemeDirection(d string) bool {
	switch SchemeDirection(d) {
	case DirectionSupport, DirectionAttack:
		return true
	}
	return false
}

type EscrowStatus string

const (
	EscrowNone       EscrowStatus = "none"
	EscrowActive     EscrowStatus = "active"
	EscrowPaid       EscrowStatus = "paid"
	EscrowStolen     EscrowStatus = "stolen"
	EscrowLanguished EscrowStatus = "languished"
)

// EscrowCanTransition enforces the forward-only lifecycle
// none -> active -> {paid | stolen | languished}.
func EscrowCanTransition(from, to EscrowStatus) bool {
	switch from {
	case EscrowNone:
		return to == EscrowActive
	case EscrowActive:
		return to == EscrowPaid || to == EscrowStolen || to == EscrowLanguished
	}
	return false
}

// SNode is an inference step linking premise I-Nodes to a conclusion, plus
// the economic escrow attached to that conclusion and bridge metadata set
// when the scheme first joins two previously disconnected components.
type SNode struct {
	ID              uuid.UUID       `json:"id"`
	RunID           uuid.UUID       `json:"run_id"`
	EngineID        string          `json:"engine_id"`
	Direction       SchemeDirection `json:"direction"`
	Confidence      float32         `json:"confidence"`
	GapDetected     bool            `json:"gap_detected"`
	Fallacy         string          `json:"fallacy,omitempty"`
	EscrowStatus    EscrowStatus    `json:"escrow_status"`
	PendingBounty   int64           `json:"pending_bounty"`
	EscrowExpiresAt *time.Time      `json:"escrow_expires_at,omitempty"`
	EscrowStakedBy  *uuid.UUID      `json:"escrow_staked_by,omitempty"`
	IsBridge        bool            `json:"is_bridge"`
	ComponentAID    *uuid.UUID      `json:"component_a_id,omitempty"`
	ComponentBID    *uuid.UUID      `json:"component_b_id,omitempty"`
	CreatedBy       *uuid.UUID      `json:"created_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type EdgeRole string

const (
	RolePremise    EdgeRole = "premise"
	RoleConclusion EdgeRole = "conclusion"
	RoleMotivation EdgeRole = "motivation"
)

func ValidEdgeRole(r string) bool {
	switch EdgeRole(r) {
	case RolePremise, RoleConclusion, RoleMotivation:
		return true
	}
	return false
}

// Edge connects a scheme to an I-Node or a ghost node. Exactly one of
// TargetINodeID and TargetGhostID is set.
type Edge struct {
	ID            uuid.UUID  `json:"id"`
	RunID         uuid.UUID  `json:"run_id"`
	SchemeID      uuid.UUID  `json:"scheme_id"`
	TargetINodeID *uuid.UUID `json:"target_inode_id,omitempty"`
	TargetGhostID *uuid.UUID `json:"target_ghost_id,omitempty"`
	Role          EdgeRole   `json:"role"`
	CreatedAt     time.Time  `json:"created_at"`
}

type GhostStatus string

const (
	GhostPending  GhostStatus = "pending"
	GhostAccepted GhostStatus = "accepted"
	GhostRejected GhostStatus = "rejected"
)

// Enthymeme is an implicit premise inferred for a scheme.
type Enthymeme struct {
	ID            uuid.UUID     `json:"id"`
	RunID         uuid.UUID     `json:"run_id"`
	SchemeID      uuid.UUID     `json:"scheme_id"`
	Text          string        `json:"text"`
	EpistemicType EpistemicType `json:"epistemic_type"`
	Probability   float32       `json:"probability"`
	Status        GhostStatus   `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
}

// SocraticQuestion is attached to a gap-flagged scheme.
type SocraticQuestion struct {
	ID               uuid.UUID `json:"id"`
	RunID            uuid.UUID `json:"run_id"`
	SchemeID         uuid.UUID `json:"scheme_id"`
	UncertaintyLevel float32   `json:"uncertainty_level"`
	Question         string    `json:"question"`
	ResolvingReply   string    `json:"resolving_reply,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ExtractedValue is a value statement sourced from an I-Node.
type ExtractedValue struct {
	ID        uuid.UUID `json:"id"`
	RunID     uuid.UUID `json:"run_id"`
	INodeID   uuid.UUID `json:"inode_id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
