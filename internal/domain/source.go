package domain

import (
	"time"

	"github.com/google/uuid"
)

// Source is a citation target (R-Node) for FACT claims. ApprovalScore is
// the community vote signal supplied by the application layer and seeds
// base weights; reputation fields are recomputed each settlement cycle
// from the evidence rank of claims citing the source.
type Source struct {
	ID                  uuid.UUID `json:"id"`
	Ref                 string    `json:"ref"`
	Title               string    `json:"title,omitempty"`
	ApprovalScore       float32   `json:"approval_score"`
	ReputationTotal     float32   `json:"reputation_total"`
	ReputationSurviving float32   `json:"reputation_surviving"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}
