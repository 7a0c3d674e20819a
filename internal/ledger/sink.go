package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/alphagov/pay-connector-sub019/internal/events"
	"github.com/alphagov/pay-connector-sub019/internal/observability/tracing"
)

// HTTPSink publishes event batches to the ledger ingest endpoint. The
// receiver dedupes on the event tuple, so duplicate delivery is safe.
type HTTPSink struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

func NewHTTPSink(baseURL string, timeout time.Duration, log *zap.Logger) *HTTPSink {
	return &HTTPSink{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log.Named("ledger.sink"),
	}
}

func (s *HTTPSink) Publish(ctx context.Context, batch []events.Event) error {
	if len(batch) == 0 {
		return nil
	}

	ctx, span := tracing.Start(ctx, "ledger.Publish",
		attribute.Int("batch.size", len(batch)))
	defer span.End()

	body, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/event", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ledger ingest returned status %d", resp.StatusCode)
	}
	return nil
}
