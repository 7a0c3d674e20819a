package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/alphagov/pay-connector-sub019/internal/cache"
	"github.com/alphagov/pay-connector-sub019/internal/charge/domain"
	"github.com/alphagov/pay-connector-sub019/internal/clock"
	"github.com/alphagov/pay-connector-sub019/internal/events"
)

// Concurrent notification delivery makes version conflicts routine, so a
// small number of internal retries is absorbed before surfacing one.
const maxConflictRetries = 3

// Gateway accounts change rarely; a short TTL keeps a deleted or reconfigured
// account from being served for long.
const accountCacheTTL = 5 * time.Minute

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Graph    *domain.StatusGraph
	Repo     domain.Repository
	Outbox   *events.Outbox
	Accounts cache.Cache[snowflake.ID, *domain.GatewayAccount] `optional:"true"`
}

// TransitionService applies status changes to charges. It is the single
// synchronization point: every producer funnels through Apply, and the
// optimistic version check on the charge row serialises racing writers.
type TransitionService struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clk      clock.Clock
	graph    *domain.StatusGraph
	repo     domain.Repository
	outbox   *events.Outbox
	accounts cache.Cache[snowflake.ID, *domain.GatewayAccount]
}

func New(p Params) *TransitionService {
	return &TransitionService{
		db:       p.DB,
		log:      p.Log.Named("charge.transition"),
		genID:    p.GenID,
		clk:      p.Clock,
		graph:    p.Graph,
		repo:     p.Repo,
		outbox:   p.Outbox,
		accounts: p.Accounts,
	}
}

// Create inserts a new charge in CREATED together with its first history row
// and pending ledger event, all in one transaction.
func (s *TransitionService) Create(ctx context.Context, accountID snowflake.ID, amount int64) (*domain.Charge, error) {
	account, err := s.findAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	id := s.genID.Generate()
	charge := &domain.Charge{
		ID:               id,
		ExternalID:       id.Base58(),
		GatewayAccountID: account.ID,
		Provider:         account.Provider,
		Amount:           amount,
		Status:           domain.StatusCreated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, charge); err != nil {
			return err
		}
		if err := s.repo.InsertEvent(ctx, tx, &domain.ChargeEvent{
			ID:        s.genID.Generate(),
			ChargeID:  charge.ID,
			Status:    domain.StatusCreated,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		return s.outbox.RecordPendingTx(ctx, tx, s.pendingEvent(charge, now))
	})
	if err != nil {
		return nil, err
	}
	return charge, nil
}

func (s *TransitionService) findAccount(ctx context.Context, accountID snowflake.ID) (*domain.GatewayAccount, error) {
	if s.accounts != nil {
		if account, ok := s.accounts.Get(accountID); ok {
			return account, nil
		}
	}
	account, err := s.repo.FindAccount(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if s.accounts != nil {
		s.accounts.Set(accountID, account, accountCacheTTL)
	}
	return account, nil
}

// Apply moves a charge to targetStatus if the status graph permits the edge
// for the given trigger. Applying the charge's current status is accepted as
// an idempotent no-op and writes nothing.
func (s *TransitionService) Apply(ctx context.Context, chargeID snowflake.ID, target domain.ChargeStatus, trigger domain.TriggerKind, gatewayEventDate *time.Time) (*domain.Charge, error) {
	var lastErr error
	for attempt := 0; attempt <= maxConflictRetries; attempt++ {
		charge, err := s.repo.FindByID(ctx, s.db, chargeID)
		if err != nil {
			return nil, err
		}

		if charge.Status == target {
			return charge, nil
		}

		if !s.graph.IsValidTransition(charge.Status, target, trigger) {
			s.log.Info("transition rejected",
				zap.String("charge_external_id", charge.ExternalID),
				zap.String("from", string(charge.Status)),
				zap.String("to", string(target)),
				zap.String("trigger", string(trigger)))
			return nil, domain.ErrInvalidTransition
		}

		err = s.applyOnce(ctx, charge, target, gatewayEventDate)
		if err == nil {
			return charge, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, err
		}
		// Another writer updated the charge between read and write. Reload
		// and re-validate against the new current status.
		lastErr = err
	}
	return nil, lastErr
}

// Claim is the capture worker's exclusive variant of Apply. A charge already
// at the target means a rival claimed it first, and a version conflict is
// never retried: the one compare-and-set either wins or the caller backs off.
// Routing claims through Apply would let its idempotent no-op and retry paths
// report success for a claim another worker holds.
func (s *TransitionService) Claim(ctx context.Context, chargeID snowflake.ID, target domain.ChargeStatus, trigger domain.TriggerKind) (*domain.Charge, error) {
	charge, err := s.repo.FindByID(ctx, s.db, chargeID)
	if err != nil {
		return nil, err
	}

	if charge.Status == target {
		return nil, domain.ErrVersionConflict
	}
	if !s.graph.IsValidTransition(charge.Status, target, trigger) {
		return nil, domain.ErrInvalidTransition
	}

	if err := s.applyOnce(ctx, charge, target, nil); err != nil {
		return nil, err
	}
	return charge, nil
}

// applyOnce commits one status change: CAS on the charge row, history row,
// and pending outbox row in a single transaction.
func (s *TransitionService) applyOnce(ctx context.Context, charge *domain.Charge, target domain.ChargeStatus, gatewayEventDate *time.Time) error {
	now := s.clk.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.UpdateStatus(ctx, tx, charge.ID, target, charge.Version, now); err != nil {
			return err
		}
		if err := s.repo.InsertEvent(ctx, tx, &domain.ChargeEvent{
			ID:               s.genID.Generate(),
			ChargeID:         charge.ID,
			Status:           target,
			GatewayEventDate: gatewayEventDate,
			CreatedAt:        now,
		}); err != nil {
			return err
		}
		charge.Status = target
		charge.Version++
		charge.UpdatedAt = now
		return s.outbox.RecordPendingTx(ctx, tx, s.pendingEvent(charge, now))
	})
}

// AssignGatewayTransaction records the reference the gateway issued for this
// charge. The reference is write-once.
func (s *TransitionService) AssignGatewayTransaction(ctx context.Context, chargeID snowflake.ID, reference string) error {
	return s.repo.SetGatewayTransaction(ctx, s.db, chargeID, reference, s.clk.Now())
}

func (s *TransitionService) pendingEvent(charge *domain.Charge, now time.Time) events.PendingEvent {
	return events.PendingEvent{
		ResourceType:       events.ResourcePayment,
		ResourceExternalID: charge.ExternalID,
		EventType:          events.TypeForChargeStatus(charge.Status),
		EventDate:          now,
		Payload: map[string]any{
			"amount":   charge.Amount,
			"provider": charge.Provider,
			"status":   string(charge.Status.External()),
		},
	}
}
