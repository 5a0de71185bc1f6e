package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConceptNode is a canonical meaning for a term.
type ConceptNode struct {
	ID         uuid.UUID `json:"id"`
	Term       string    `json:"term"`
	Definition string    `json:"definition,omitempty"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// ConceptBinding records that an I-Node uses a term in the sense of a
// particular concept. One I-Node may bind several terms.
type ConceptBinding struct {
	INodeID   uuid.UUID `json:"inode_id"`
	ConceptID uuid.UUID `json:"concept_id"`
	Term      string    `json:"term"`
	CreatedAt time.Time `json:"created_at"`
}

// EquivocationFlag marks a scheme whose premise and conclusion bind the
// same term to two different concepts. At most one flag exists per
// (scheme, term) pair.
type EquivocationFlag struct {
	ID                  uuid.UUID `json:"id"`
	SchemeID            uuid.UUID `json:"scheme_id"`
	Term                string    `json:"term"`
	PremiseINodeID      uuid.UUID `json:"premise_inode_id"`
	ConclusionINodeID   uuid.UUID `json:"conclusion_inode_id"`
	PremiseConceptID    uuid.UUID `json:"premise_concept_id"`
	ConclusionConceptID uuid.UUID `json:"conclusion_concept_id"`
	CreatedAt           time.Time `json:"created_at"`
}
