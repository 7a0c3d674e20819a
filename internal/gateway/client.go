package gateway

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// CaptureResult classifies the gateway's answer to a capture request.
type CaptureResult int

const (
	// CaptureOutcomeCaptured means the gateway settled the funds.
	CaptureOutcomeCaptured CaptureResult = iota
	// CaptureOutcomeRejected is a definite, permanent refusal.
	CaptureOutcomeRejected
	// CaptureOutcomeAmbiguous covers timeouts and transient errors where the
	// outcome is unknown; the attempt may be retried.
	CaptureOutcomeAmbiguous
)

// CaptureOutcome carries the classification and the provider's reason text.
type CaptureOutcome struct {
	Result CaptureResult
	Reason string
}

// ChargeView is the slice of charge state a gateway call needs.
type ChargeView struct {
	ChargeID             snowflake.ID
	ExternalID           string
	GatewayTransactionID string
	Amount               int64
}

// Client submits operations to one external card-scheme gateway. Calls block
// with an explicit timeout; a timeout surfaces as an ambiguous outcome.
type Client interface {
	Capture(ctx context.Context, charge ChargeView) CaptureOutcome
}

var ErrProviderNotFound = errors.New("gateway_provider_not_found")

// Registry resolves gateway clients by provider name.
type Registry struct {
	clients map[string]Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

func (r *Registry) Register(provider string, client Client) {
	r.clients[provider] = client
}

func (r *Registry) Client(provider string) (Client, error) {
	client, ok := r.clients[provider]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return client, nil
}
