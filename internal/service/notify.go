package service

import (
	"context"
	"fmt"

	"github.com/argumentlab/dialectic/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NotifyService derives upstream-dependency notices from defeat flips and
// economic-outcome notices from settlement.
type NotifyService struct {
	notices domain.NotificationStore
	logger  *zap.Logger
}

func NewNotifyService(notices domain.NotificationStore, logger *zap.Logger) *NotifyService {
	return &NotifyService{notices: notices, logger: logger}
}

// NotifyFlips notifies the author of every conclusion whose premise
// flipped. The caller supplies the already-loaded graph so the batch does
// not re-read it.
func (s *NotifyService) NotifyFlips(ctx context.Context, inodes []domain.INode, snodes []domain.SNode, edges []domain.Edge, newlyDefeated, newlyRevived []uuid.UUID) (int, error) {
	byID := make(map[uuid.UUID]*domain.INode, len(inodes))
	for i := range inodes {
		byID[inodes[i].ID] = &inodes[i]
	}

	premiseSchemes := make(map[uuid.UUID][]uuid.UUID)
	conclusionBy := make(map[uuid.UUID]uuid.UUID)
	for _, e := range edges {
		if e.TargetINodeID == nil {
			continue
		}
		switch e.Role {
		case domain.RolePremise:
			premiseSchemes[*e.TargetINodeID] = append(premiseSchemes[*e.TargetINodeID], e.SchemeID)
		case domain.RoleConclusion:
			conclusionBy[e.SchemeID] = *e.TargetINodeID
		}
	}

	created := 0
	emit := func(flipped []uuid.UUID, kind domain.NotificationKind, verb string) error {
		for _, premiseID := range flipped {
			premise := byID[premiseID]
			if premise == nil {
				continue
			}
			for _, schemeID := range premiseSchemes[premiseID] {
				conclID, ok := conclusionBy[schemeID]
				if !ok {
					continue
				}
				conclusion := byID[conclID]
				if conclusion == nil || conclusion.CreatedBy == nil {
					continue
				}
				nodeID := premiseID
				sid := schemeID
				n := &domain.Notification{
					UserID:   *conclusion.CreatedBy,
					Kind:     kind,
					NodeID:   &nodeID,
					SchemeID: &sid,
					Message:  fmt.Sprintf("a premise your conclusion depends on was %s: %q", verb, premise.Text),
				}
				if err := s.notices.Create(ctx, n); err != nil {
					return err
				}
				created++
			}
		}
		return nil
	}

	if err := emit(newlyDefeated, domain.NoticePremiseDefeated, "defeated"); err != nil {
		return created, err
	}
	if err := emit(newlyRevived, domain.NoticePremiseRevived, "revived"); err != nil {
		return created, err
	}
	if created > 0 {
		s.logger.Info("flip notices created", zap.Int("count", created))
	}
	return created, nil
}

// NotifySettlement tells the staker how their bounty resolved.
func (s *NotifyService) NotifySettlement(ctx context.Context, sn *domain.SNode, kind domain.NotificationKind) error {
	if sn.EscrowStakedBy == nil {
		return nil
	}
	sid := sn.ID
	return s.notices.Create(ctx, &domain.Notification{
		UserID:   *sn.EscrowStakedBy,
		Kind:     kind,
		SchemeID: &sid,
		Message:  fmt.Sprintf("your bounty of %d resolved as %s", sn.PendingBounty, kind),
	})
}
