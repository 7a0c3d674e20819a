package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/alphagov/pay-connector-sub019/internal/observability/tracing"
)

var ErrTransactionNotFound = errors.New("ledger_transaction_not_found")

// TransactionView is the ledger's canonical copy of a payment or refund.
type TransactionView struct {
	ExternalID  string    `json:"resource_external_id"`
	Status      string    `json:"status"`
	Amount      int64     `json:"amount"`
	CreatedDate time.Time `json:"created_date"`
}

// ReadClient fetches the downstream ledger's view of a transaction.
type ReadClient interface {
	GetTransaction(ctx context.Context, externalID string) (*TransactionView, error)
}

// HTTPReadClient talks to the ledger read API over HTTP with a bounded
// per-call timeout.
type HTTPReadClient struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

func NewHTTPReadClient(baseURL string, timeout time.Duration, log *zap.Logger) *HTTPReadClient {
	return &HTTPReadClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log.Named("ledger.client"),
	}
}

func (c *HTTPReadClient) GetTransaction(ctx context.Context, externalID string) (*TransactionView, error) {
	ctx, span := tracing.Start(ctx, "ledger.GetTransaction",
		attribute.String("resource.external_id", externalID))
	defer span.End()

	endpoint := fmt.Sprintf("%s/v1/transaction/%s", c.baseURL, url.PathEscape(externalID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var view TransactionView
		if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
			return nil, err
		}
		return &view, nil
	case http.StatusNotFound:
		return nil, ErrTransactionNotFound
	default:
		return nil, fmt.Errorf("ledger returned status %d", resp.StatusCode)
	}
}
