package referral

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/doorlink/doorlink/internal/identity"
	"github.com/doorlink/doorlink/internal/notification"
	"github.com/doorlink/doorlink/internal/store"
)

const (
	// rewardWindow is both the minimum gap between rewards for one referrer
	// and the lookback over which usage is counted.
	rewardWindow = 30 * 24 * time.Hour
	// rewardThreshold is the number of logged opens inside the window needed
	// to earn an invitation.
	rewardThreshold = 4

	latestInvitationLimit = 2
	usageCountLimit       = 10
)

// Service decides, after each successful door open, whether the opener has
// earned a new invitation to hand out. Every step is best-effort: failures are
// logged and never reach the caller, whose open reply is already sent.
type Service struct {
	store    store.Store
	notifier notification.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds the referral engine.
func NewService(st store.Store, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{store: st, notifier: notifier, logger: logger, now: time.Now}
}

// RecordOpen appends a usage log for the open and mints one invitation when
// the opener both cleared the usage threshold inside the lookback window and
// received no invitation within it.
func (s *Service) RecordOpen(ctx context.Context, doorID, personID string) {
	now := s.now().UnixMilli()
	windowStart := s.now().Add(-rewardWindow).UnixMilli()

	logRec := identity.UsageLogRecord(uuid.NewString(), doorID, personID, now)
	if _, err := s.store.Put(ctx, logRec); err != nil {
		s.logger.Error("append usage log", "door_id", doorID, "person_id", personID, "error", err)
		return
	}

	latest, err := s.store.Find(ctx, store.Selector{
		Kind:     store.KindInvitation,
		DoorID:   doorID,
		Referrer: personID,
	}, latestInvitationLimit, store.SortTSDesc)
	if err != nil {
		s.logger.Error("find latest invitation", "door_id", doorID, "person_id", personID, "error", err)
		return
	}
	if len(latest) > 0 && latest[0].TS > windowStart {
		// Already rewarded inside the window.
		return
	}

	usage, err := s.store.Find(ctx, store.Selector{
		Kind:     store.KindUsageLog,
		DoorID:   doorID,
		PersonID: personID,
		TSAfter:  windowStart,
	}, usageCountLimit, store.SortNone)
	if err != nil {
		s.logger.Error("count usage", "door_id", doorID, "person_id", personID, "error", err)
		return
	}
	if len(usage) < rewardThreshold {
		return
	}

	inv := identity.InvitationRecord(uuid.NewString(), doorID, personID, now)
	if _, err := s.store.Put(ctx, inv); err != nil {
		s.logger.Error("mint invitation", "door_id", doorID, "person_id", personID, "error", err)
		return
	}

	s.logger.Info("invitation minted", "door_id", doorID, "person_id", personID, "invitation_id", inv.ID)
	if s.notifier != nil {
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:     notification.KindInvitationMinted,
			DoorID:   doorID,
			PersonID: personID,
			Body:     "referral reward earned",
		})
	}
}
