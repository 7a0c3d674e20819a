package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/alphagov/pay-connector-sub019/internal/audit/domain"
	"github.com/alphagov/pay-connector-sub019/internal/auditcontext"
	"github.com/alphagov/pay-connector-sub019/internal/clock"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

// Recorder writes audit log entries for actions taken through the API.
// Recording is best-effort: a failed insert must never fail the action
// it describes, so failures are logged and swallowed.
type Recorder struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clk   clock.Clock
	repo  domain.Repository
}

func New(p Params) *Recorder {
	return &Recorder{
		db:    p.DB,
		log:   p.Log.Named("audit"),
		genID: p.GenID,
		clk:   p.Clock,
		repo:  p.Repo,
	}
}

// Record persists an audit entry for an action against a target. Actor,
// request ID and IP address are read from the context when present.
func (r *Recorder) Record(ctx context.Context, actorType domain.ActorType, action, targetType, targetID string, metadata map[string]interface{}) {
	entry := &domain.AuditLog{
		ID:         r.genID.Generate(),
		ActorType:  string(actorType),
		Action:     action,
		TargetType: targetType,
		Metadata:   datatypes.JSONMap(metadata),
		CreatedAt:  r.clk.Now(),
	}
	if entry.Metadata == nil {
		entry.Metadata = datatypes.JSONMap{}
	}
	if targetID != "" {
		entry.TargetID = &targetID
	}
	if requestID := auditcontext.RequestIDFromContext(ctx); requestID != "" {
		entry.RequestID = &requestID
	}
	if ip := auditcontext.IPAddressFromContext(ctx); ip != "" {
		entry.IPAddress = &ip
	}
	if actor := auditcontext.ActorFromContext(ctx); actor != "" {
		entry.Metadata["actor"] = actor
	}

	if err := r.repo.Insert(ctx, r.db, entry); err != nil {
		r.log.Warn("audit insert failed",
			zap.String("action", action),
			zap.String("target_id", targetID),
			zap.Error(err))
	}
}

// ListForTarget returns the most recent audit entries for one target.
func (r *Recorder) ListForTarget(ctx context.Context, targetType, targetID string, limit int) ([]domain.AuditLog, error) {
	return r.repo.ListByTarget(ctx, r.db, targetType, targetID, limit)
}
