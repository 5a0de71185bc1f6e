package domain

import "github.com/google/uuid"

// NodeKind tags the loosely-typed node union produced by the external
// analysis engine. Ingestion matches kinds exhaustively and rejects
// anything it does not recognize.
type NodeKind string

const (
	KindADU    NodeKind = "adu"
	KindScheme NodeKind = "scheme"
	KindGhost  NodeKind = "ghost"
)

// AnalysisTerm is a salient term occurrence with an optional precomputed
// embedding, used by the concept resolver.
type AnalysisTerm struct {
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// AnalysisNode is one tagged node from the external analysis. Which fields
// are meaningful depends on Kind; LocalID is the engine-local identifier
// everything else in the payload addresses it by.
type AnalysisNode struct {
	Kind    NodeKind `json:"kind"`
	LocalID string   `json:"id"`

	// adu fields
	Text          string         `json:"text,omitempty"`
	ResolvedText  string         `json:"resolved_text,omitempty"`
	EpistemicType string         `json:"epistemic_type,omitempty"`
	SpanStart     int            `json:"span_start,omitempty"`
	SpanEnd       int            `json:"span_end,omitempty"`
	Citation      string         `json:"citation,omitempty"`
	Terms         []AnalysisTerm `json:"terms,omitempty"`

	// scheme fields
	Direction   string `json:"direction,omitempty"`
	GapDetected bool   `json:"gap_detected,omitempty"`
	Fallacy     string `json:"fallacy,omitempty"`

	// ghost fields
	SchemeRef   string  `json:"scheme_ref,omitempty"`
	Probability float32 `json:"probability,omitempty"`

	// shared
	Confidence float32 `json:"confidence,omitempty"`
}

// AnalysisEdge references nodes by their engine-local ids.
type AnalysisEdge struct {
	SchemeRef string `json:"scheme_ref"`
	TargetRef string `json:"target_ref"`
	Role      string `json:"role"`
}

type AnalysisQuestion struct {
	SchemeRef        string  `json:"scheme_ref"`
	UncertaintyLevel float32 `json:"uncertainty_level"`
	Question         string  `json:"question"`
}

type AnalysisValue struct {
	NodeRef   string    `json:"node_ref"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// AnalysisResult is one completed external analysis targeting one run.
type AnalysisResult struct {
	Nodes     []AnalysisNode     `json:"nodes"`
	Edges     []AnalysisEdge     `json:"edges"`
	Questions []AnalysisQuestion `json:"questions,omitempty"`
	Values    []AnalysisValue    `json:"values,omitempty"`
}

// EmbeddingSet maps engine-local node ids to precomputed vectors supplied
// alongside the analysis.
type EmbeddingSet map[string][]float32

// ResolvedIDMap maps engine-local ids to the durable ids minted for them.
type ResolvedIDMap map[string]uuid.UUID
