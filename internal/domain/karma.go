package domain

import (
	"time"

	"github.com/google/uuid"
)

// KarmaProfile holds per-user lifetime epistemic-contribution yields.
type KarmaProfile struct {
	UserID          uuid.UUID `json:"user_id"`
	PioneerLifetime float64   `json:"pioneer_lifetime"`
	BuilderLifetime float64   `json:"builder_lifetime"`
	CriticLifetime  float64   `json:"critic_lifetime"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// KarmaYield is one per-user increment produced by a settlement cycle.
type KarmaYield struct {
	UserID uuid.UUID `json:"user_id"`
	Role   NodeRole  `json:"role"`
	Amount float64   `json:"amount"`
}

// DailyYield is the per-day rollup of a user's yields.
type DailyYield struct {
	UserID  uuid.UUID `json:"user_id"`
	Day     time.Time `json:"day"`
	Pioneer float64   `json:"pioneer"`
	Builder float64   `json:"builder"`
	Critic  float64   `json:"critic"`
}

type NotificationKind string

const (
	NoticePremiseDefeated  NotificationKind = "premise_defeated"
	NoticePremiseRevived   NotificationKind = "premise_revived"
	NoticeBountyPaid       NotificationKind = "bounty_paid"
	NoticeBountyStolen     NotificationKind = "bounty_stolen"
	NoticeBountyLanguished NotificationKind = "bounty_languished"
)

// Notification is an upstream-dependency or economic-outcome notice
// derived from propagation flips and settlement results.
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	UserID    uuid.UUID        `json:"user_id"`
	Kind      NotificationKind `json:"kind"`
	NodeID    *uuid.UUID       `json:"node_id,omitempty"`
	SchemeID  *uuid.UUID       `json:"scheme_id,omitempty"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"created_at"`
	ReadAt    *time.Time       `json:"read_at,omitempty"`
}
