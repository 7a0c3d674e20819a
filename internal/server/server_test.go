package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	auditdomain "github.com/alphagov/pay-connector-sub019/internal/audit/domain"
	auditrepository "github.com/alphagov/pay-connector-sub019/internal/audit/repository"
	auditservice "github.com/alphagov/pay-connector-sub019/internal/audit/service"
	chargedomain "github.com/alphagov/pay-connector-sub019/internal/charge/domain"
	chargerepository "github.com/alphagov/pay-connector-sub019/internal/charge/repository"
	chargeservice "github.com/alphagov/pay-connector-sub019/internal/charge/service"
	"github.com/alphagov/pay-connector-sub019/internal/clock"
	"github.com/alphagov/pay-connector-sub019/internal/config"
	"github.com/alphagov/pay-connector-sub019/internal/events"
	"github.com/alphagov/pay-connector-sub019/internal/ledger"
	"github.com/alphagov/pay-connector-sub019/internal/notification"
	notificationsandbox "github.com/alphagov/pay-connector-sub019/internal/notification/sandbox"
	"github.com/alphagov/pay-connector-sub019/internal/parity"
	refunddomain "github.com/alphagov/pay-connector-sub019/internal/refund/domain"
	refundrepository "github.com/alphagov/pay-connector-sub019/internal/refund/repository"
)

type allowAllVerifier struct{}

func (allowAllVerifier) MatchesTrustedDomain(ctx context.Context, senderAddress, trustedDomain string) bool {
	return true
}

type nullSink struct{}

func (nullSink) Publish(ctx context.Context, batch []events.Event) error { return nil }

type nullLedger struct{}

func (nullLedger) GetTransaction(ctx context.Context, externalID string) (*ledger.TransactionView, error) {
	return nil, ledger.ErrTransactionNotFound
}

type serverFixture struct {
	engine     *gin.Engine
	db         *gorm.DB
	transition *chargeservice.TransitionService
	account    *chargedomain.GatewayAccount
}

func setupServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&chargedomain.GatewayAccount{},
		&chargedomain.Charge{},
		&chargedomain.ChargeEvent{},
		&refunddomain.Refund{},
		&events.EmittedEvent{},
		&auditdomain.AuditLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	repo := chargerepository.New()
	outbox := events.NewOutbox(db, node, clock.SystemClock{})
	graph := chargedomain.NewStatusGraph()
	transition := chargeservice.New(chargeservice.Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clock.SystemClock{},
		Graph:  graph,
		Repo:   repo,
		Outbox: outbox,
	})
	expiry := chargeservice.NewExpirySweeper(db, zap.NewNop(), repo, transition, clock.SystemClock{}, chargeservice.ExpiryConfig{})
	processor := notification.NewProcessor(notification.Params{
		DB:         db,
		Log:        zap.NewNop(),
		Clock:      clock.SystemClock{},
		Registry:   notification.NewRegistry(notificationsandbox.Provider()),
		Verifier:   allowAllVerifier{},
		ChargeRepo: repo,
		RefundRepo: refundrepository.New(),
		Transition: transition,
		Outbox:     outbox,
	})
	checker := parity.NewChecker(parity.Params{
		DB:      db,
		Log:     zap.NewNop(),
		Clock:   clock.SystemClock{},
		Repo:    repo,
		Refunds: refundrepository.New(),
		Ledger:  nullLedger{},
		Outbox:  outbox,
		Sink:    nullSink{},
	})

	recorder := auditservice.New(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.SystemClock{},
		Repo:  auditrepository.New(),
	})

	cfg := config.Config{Port: "0"}
	engine := NewEngine(cfg, zap.NewNop())
	srv := NewServer(Params{
		Config:        cfg,
		Log:           zap.NewNop(),
		DB:            db,
		Engine:        engine,
		Graph:         graph,
		Charges:       transition,
		Expiry:        expiry,
		Repo:          repo,
		Notifications: processor,
		Parity:        checker,
		Audit:         recorder,
	})
	srv.RegisterAPIRoutes()

	account := &chargedomain.GatewayAccount{
		ID:          node.Generate(),
		Provider:    "sandbox",
		ServiceName: "Test Service",
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.Create(account).Error; err != nil {
		t.Fatalf("insert account: %v", err)
	}

	return &serverFixture{engine: engine, db: db, transition: transition, account: account}
}

func (f *serverFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *serverFixture) decodeCharge(t *testing.T, w *httptest.ResponseRecorder) chargeResponse {
	t.Helper()
	var envelope struct {
		Data chargeResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v (%s)", err, w.Body.String())
	}
	return envelope.Data
}

func TestCreateChargeEndpoint(t *testing.T) {
	f := setupServerFixture(t)

	w := f.do(t, http.MethodPost,
		fmt.Sprintf("/v1/api/accounts/%d/charges", f.account.ID),
		map[string]any{"amount": 1500})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	charge := f.decodeCharge(t, w)
	if charge.ExternalID == "" {
		t.Fatal("expected charge_id in response")
	}
	if charge.Status != "created" {
		t.Fatalf("expected external status created, got %q", charge.Status)
	}
	if charge.Finished {
		t.Fatal("a new charge must not be finished")
	}
}

func TestCreateChargeRejectsBadAmount(t *testing.T) {
	f := setupServerFixture(t)

	w := f.do(t, http.MethodPost,
		fmt.Sprintf("/v1/api/accounts/%d/charges", f.account.ID),
		map[string]any{"amount": 0})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

func TestGetChargeScopedToAccount(t *testing.T) {
	f := setupServerFixture(t)
	charge, err := f.transition.Create(context.Background(), f.account.ID, 1500)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	w := f.do(t, http.MethodGet,
		fmt.Sprintf("/v1/api/accounts/%d/charges/%s", f.account.ID, charge.ExternalID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	// The same charge under a different account id must look absent.
	w = f.do(t, http.MethodGet,
		fmt.Sprintf("/v1/api/accounts/%d/charges/%s", f.account.ID+1, charge.ExternalID), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for wrong account, got %d", w.Code)
	}
}

func TestCancelChargeEndpoint(t *testing.T) {
	f := setupServerFixture(t)
	charge, err := f.transition.Create(context.Background(), f.account.ID, 1500)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	w := f.do(t, http.MethodPost,
		fmt.Sprintf("/v1/api/accounts/%d/charges/%s/cancel", f.account.ID, charge.ExternalID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := f.decodeCharge(t, w)
	if resp.Status != "cancelled" {
		t.Fatalf("expected cancelled, got %q", resp.Status)
	}
	if !resp.Finished {
		t.Fatal("a cancelled charge is finished")
	}
}

func TestCancelCapturedChargeConflicts(t *testing.T) {
	f := setupServerFixture(t)
	charge, err := f.transition.Create(context.Background(), f.account.ID, 1500)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ctx := context.Background()
	for _, step := range []struct {
		to      chargedomain.ChargeStatus
		trigger chargedomain.TriggerKind
	}{
		{chargedomain.StatusAuthorisationSuccess, chargedomain.TriggerNotification},
		{chargedomain.StatusCaptureApproved, chargedomain.TriggerAPI},
		{chargedomain.StatusCaptured, chargedomain.TriggerNotification},
	} {
		if _, err := f.transition.Apply(ctx, charge.ID, step.to, step.trigger, nil); err != nil {
			t.Fatalf("walk to %s: %v", step.to, err)
		}
	}

	w := f.do(t, http.MethodPost,
		fmt.Sprintf("/v1/api/accounts/%d/charges/%s/cancel", f.account.ID, charge.ExternalID), nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for captured charge, got %d", w.Code)
	}
}

func TestNotificationEndpointAlwaysAcks(t *testing.T) {
	f := setupServerFixture(t)
	charge, err := f.transition.Create(context.Background(), f.account.ID, 1500)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.transition.AssignGatewayTransaction(context.Background(), charge.ID, "txn-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	w := f.do(t, http.MethodPost, "/v1/api/notifications/sandbox",
		map[string]any{"transaction_reference": "txn-1", "status": "AUTHORISED"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "[OK]" {
		t.Fatalf("expected [OK] ack, got %q", w.Body.String())
	}

	// Garbage is still acknowledged so the provider stops retrying.
	req := httptest.NewRequest(http.MethodPost, "/v1/api/notifications/sandbox", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for undecodable payload, got %d", rec.Code)
	}

	// Unknown providers are acknowledged too.
	w = f.do(t, http.MethodPost, "/v1/api/notifications/nonexistent",
		map[string]any{"transaction_reference": "txn-1", "status": "AUTHORISED"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown provider, got %d", w.Code)
	}
}

func TestHealthzEndpoint(t *testing.T) {
	f := setupServerFixture(t)

	w := f.do(t, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestExpirySweepTask(t *testing.T) {
	f := setupServerFixture(t)
	charge, err := f.transition.Create(context.Background(), f.account.ID, 1500)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	backdated := time.Now().UTC().Add(-3 * time.Hour)
	if err := f.db.Exec(`UPDATE charges SET created_at = ? WHERE id = ?`, backdated, charge.ID).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}

	w := f.do(t, http.MethodPost, "/v1/tasks/expired-charges-sweep", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var charge2 chargedomain.Charge
	if err := f.db.First(&charge2, "id = ?", charge.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if charge2.Status != chargedomain.StatusExpired {
		t.Fatalf("expected EXPIRED, got %s", charge2.Status)
	}
}

func TestParityCheckerTask(t *testing.T) {
	f := setupServerFixture(t)
	if _, err := f.transition.Create(context.Background(), f.account.ID, 1500); err != nil {
		t.Fatalf("create: %v", err)
	}

	w := f.do(t, http.MethodPost, "/v1/tasks/parity-checker", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var result struct {
		Data struct {
			Checked int `json:"checked"`
			Missing int `json:"missing"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Data.Checked != 1 || result.Data.Missing != 1 {
		t.Fatalf("expected the charge flagged missing in ledger, got %+v", result.Data)
	}
}

func TestChargeActionsAreAudited(t *testing.T) {
	f := setupServerFixture(t)

	w := f.do(t, http.MethodPost,
		fmt.Sprintf("/v1/api/accounts/%d/charges", f.account.ID),
		map[string]any{"amount": 1500})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	charge := f.decodeCharge(t, w)

	w = f.do(t, http.MethodPost,
		fmt.Sprintf("/v1/api/accounts/%d/charges/%s/cancel", f.account.ID, charge.ExternalID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var entries []auditdomain.AuditLog
	if err := f.db.Where("target_id = ?", charge.ExternalID).Order("created_at").Find(&entries).Error; err != nil {
		t.Fatalf("query audit logs: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	if entries[0].Action != "charge.create" || entries[1].Action != "charge.cancel" {
		t.Fatalf("unexpected actions: %q, %q", entries[0].Action, entries[1].Action)
	}
	if entries[0].RequestID == nil || *entries[0].RequestID == "" {
		t.Fatal("expected request id propagated into the audit entry")
	}
}
