// Package sandbox is a gateway client for test accounts: captures always
// succeed without leaving the process.
package sandbox

import (
	"context"

	"go.uber.org/zap"

	"github.com/alphagov/pay-connector-sub019/internal/gateway"
)

type Client struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Client {
	return &Client{log: log.Named("gateway.sandbox")}
}

func (c *Client) Capture(ctx context.Context, charge gateway.ChargeView) gateway.CaptureOutcome {
	select {
	case <-ctx.Done():
		return gateway.CaptureOutcome{Result: gateway.CaptureOutcomeAmbiguous, Reason: ctx.Err().Error()}
	default:
	}
	c.log.Debug("sandbox capture", zap.String("charge_external_id", charge.ExternalID))
	return gateway.CaptureOutcome{Result: gateway.CaptureOutcomeCaptured}
}
