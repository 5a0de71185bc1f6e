package domain

import (
	"time"

	"github.com/google/uuid"
)

// CanonicalClaim is the deduplicated representative of semantically
// identical claims across discussions.
type CanonicalClaim struct {
	ID              uuid.UUID `json:"id"`
	Text            string    `json:"text"`
	Embedding       []float32 `json:"-"`
	ADUCount        int       `json:"adu_count"`
	DiscussionCount int       `json:"discussion_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ClaimLink maps an I-Node onto its canonical claim with the similarity
// score observed at dedup time.
type ClaimLink struct {
	INodeID    uuid.UUID `json:"inode_id"`
	ClaimID    uuid.UUID `json:"claim_id"`
	Similarity float32   `json:"similarity"`
	CreatedAt  time.Time `json:"created_at"`
}
