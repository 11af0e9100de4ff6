package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fundsafe/backend/internal/apperr"
	"github.com/fundsafe/backend/internal/auth"
	"github.com/fundsafe/backend/internal/config"
	"github.com/fundsafe/backend/internal/http/handlers"
	"github.com/fundsafe/backend/internal/models"
	"github.com/fundsafe/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

// stubEscrows records the last call and returns whatever the test set.
type stubEscrows struct {
	actor  models.Actor
	input  services.CreateEscrowInput
	called string
	result *models.Escrow
	err    error
}

func (s *stubEscrows) ret(name string, a models.Actor) (*models.Escrow, error) {
	s.called, s.actor = name, a
	return s.result, s.err
}

func (s *stubEscrows) Create(_ context.Context, a models.Actor, in services.CreateEscrowInput) (*models.Escrow, error) {
	s.input = in
	return s.ret("create", a)
}
func (s *stubEscrows) Get(_ context.Context, _ string, a models.Actor) (*models.Escrow, error) {
	return s.ret("get", a)
}
func (s *stubEscrows) List(_ context.Context, a models.Actor, _, _ int) ([]models.Escrow, error) {
	s.called, s.actor = "list", a
	return nil, s.err
}
func (s *stubEscrows) Logs(_ context.Context, _ string, a models.Actor) ([]models.EscrowLog, error) {
	s.called, s.actor = "logs", a
	return nil, s.err
}
func (s *stubEscrows) Fund(_ context.Context, _ string, a models.Actor) (*models.Escrow, error) {
	return s.ret("fund", a)
}
func (s *stubEscrows) RequestRelease(_ context.Context, _ string, a models.Actor) (*models.Escrow, error) {
	return s.ret("release-request", a)
}
func (s *stubEscrows) Release(_ context.Context, _ string, a models.Actor) (*models.Escrow, error) {
	return s.ret("release", a)
}
func (s *stubEscrows) OpenDispute(_ context.Context, _ string, a models.Actor, _ string) (*models.Escrow, error) {
	return s.ret("dispute", a)
}
func (s *stubEscrows) ResolveDispute(_ context.Context, _ string, a models.Actor, _, _ string) (*models.Escrow, error) {
	return s.ret("resolve", a)
}
func (s *stubEscrows) UpdateMetadata(_ context.Context, _ string, a models.Actor, _ models.EscrowMetadata) (*models.Escrow, error) {
	return s.ret("update", a)
}
func (s *stubEscrows) Cancel(_ context.Context, _ string, a models.Actor, _ string) (*models.Escrow, error) {
	return s.ret("cancel", a)
}
func (s *stubEscrows) Refund(_ context.Context, _ string, a models.Actor) (*models.Escrow, error) {
	return s.ret("refund", a)
}

type stubCompliance struct{}

func (stubCompliance) Escalate(context.Context, string, models.Actor, string, string) (string, error) {
	return "CMP-1", nil
}
func (stubCompliance) VerifyTACForRelease(context.Context, string, string, models.Actor) (*models.Escrow, error) {
	return nil, apperr.New(apperr.KindMismatch, "code does not match")
}
func (stubCompliance) GetStatus(_ context.Context, id string, _ models.Actor) (*services.ComplianceStatus, error) {
	return &services.ComplianceStatus{EscrowID: id, Status: services.ComplianceStatusUnknown}, nil
}

type stubTacs struct{}

func (stubTacs) IssueAndDeliver(_ context.Context, userID, purpose, _ string, _ time.Duration) (*models.TacCode, error) {
	return &models.TacCode{UserID: userID, Code: "123456", Purpose: purpose, ExpiresAt: time.Unix(1_900_000_000, 0).UTC()}, nil
}
func (stubTacs) Verify(context.Context, string, string, string) error {
	return apperr.New(apperr.KindExpired, "code expired, request a new one")
}

func newTestApp(t *testing.T, escrows *stubEscrows) *fiber.App {
	t.Helper()
	t.Setenv("ADMIN_USER_IDS", "ops-1")
	t.Setenv("JWT_SECRET", testSecret)
	cfg := config.Load()
	log := zap.NewNop()

	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler(log)})
	SetupRouter(app, cfg, log, nil, Handlers{
		Escrow:     handlers.NewEscrowHandler(escrows, log),
		Compliance: handlers.NewComplianceHandler(stubCompliance{}, log),
		Tac:        handlers.NewTacHandler(stubTacs{}, log),
	})
	return app
}

func token(t *testing.T, userID, name, role string) string {
	t.Helper()
	tok, err := auth.GenerateJWT(testSecret, userID, name, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, app *fiber.App, method, path, tok, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-1")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	app := newTestApp(t, &stubEscrows{})
	status, body := do(t, app, fiber.MethodGet, "/health", "", "")
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, "ok", body["status"])
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	app := newTestApp(t, &stubEscrows{})

	status, body := do(t, app, fiber.MethodGet, "/api/v1/escrows", "", "")
	require.Equal(t, fiber.StatusUnauthorized, status)
	require.Equal(t, "unauthorized", body["kind"])
	require.Equal(t, "req-1", body["request_id"])

	status, _ = do(t, app, fiber.MethodGet, "/api/v1/escrows", "garbage", "")
	require.Equal(t, fiber.StatusUnauthorized, status)
}

func TestCreateEscrowPassesActorAndAmount(t *testing.T) {
	escrows := &stubEscrows{result: &models.Escrow{EscrowID: "ESCROW-0A0B0C0D", Status: models.EscrowStatusPending}}
	app := newTestApp(t, escrows)

	status, body := do(t, app, fiber.MethodPost, "/api/v1/escrows", token(t, "user-alice", "Alice", ""),
		`{"receiver_id":"user-bob","amount":"1500.50","currency":"usd","title":"Laptop"}`)
	require.Equal(t, fiber.StatusCreated, status)
	require.Equal(t, true, body["ok"])

	require.Equal(t, "create", escrows.called)
	require.Equal(t, "user-alice", escrows.actor.ID)
	require.Equal(t, "Alice", escrows.actor.DisplayName)
	require.Equal(t, models.ActorRoleUser, escrows.actor.Role)
	require.True(t, escrows.input.Amount.Equal(decimal.RequireFromString("1500.50")))
	require.Equal(t, "USD", escrows.input.Currency)
}

func TestCreateEscrowRejectsBadAmount(t *testing.T) {
	escrows := &stubEscrows{}
	app := newTestApp(t, escrows)

	status, body := do(t, app, fiber.MethodPost, "/api/v1/escrows", token(t, "user-alice", "", ""),
		`{"receiver_id":"user-bob","amount":"lots","currency":"USD","title":"x"}`)
	require.Equal(t, fiber.StatusBadRequest, status)
	require.Equal(t, "validation", body["kind"])
	require.Empty(t, escrows.called)
}

func TestServiceErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"already released", apperr.New(apperr.KindAlreadyReleased, "escrow already released"), fiber.StatusConflict, "already_released"},
		{"invalid state", apperr.InvalidState("escrow is not funded"), fiber.StatusConflict, "invalid_state"},
		{"not a party", apperr.Unauthorized("not a party"), fiber.StatusForbidden, "unauthorized"},
		{"missing", apperr.New(apperr.KindNotFound, "record not found"), fiber.StatusNotFound, "not_found"},
		{"compliance down", apperr.Wrap(apperr.KindEscalationFailed, errors.New("timeout"), "compliance escalation failed"), fiber.StatusBadGateway, "escalation_failed"},
		{"foreign error", errors.New("connection reset"), fiber.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t, &stubEscrows{err: tt.err})
			status, body := do(t, app, fiber.MethodPost, "/api/v1/escrows/escrow-0a0b0c0d/release", token(t, "user-alice", "", ""), "")
			require.Equal(t, tt.status, status)
			require.Equal(t, tt.kind, body["kind"])
			require.Equal(t, "req-1", body["request_id"])
		})
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	app := newTestApp(t, &stubEscrows{err: errors.New("pq: password authentication failed")})
	_, body := do(t, app, fiber.MethodPost, "/api/v1/escrows/ESCROW-1/fund", token(t, "user-alice", "", ""), "")
	require.Equal(t, "internal error", body["error"])
}

func TestResolveDisputeRequiresAdmin(t *testing.T) {
	escrows := &stubEscrows{result: &models.Escrow{EscrowID: "ESCROW-1"}}
	app := newTestApp(t, escrows)
	body := `{"outcome":"refund"}`

	status, _ := do(t, app, fiber.MethodPost, "/api/v1/escrows/ESCROW-1/dispute/resolve", token(t, "user-alice", "", ""), body)
	require.Equal(t, fiber.StatusForbidden, status)
	require.Empty(t, escrows.called)

	status, _ = do(t, app, fiber.MethodPost, "/api/v1/escrows/ESCROW-1/dispute/resolve", token(t, "ops-1", "", ""), body)
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, models.ActorRoleAdmin, escrows.actor.Role)

	status, _ = do(t, app, fiber.MethodPost, "/api/v1/escrows/ESCROW-1/dispute/resolve", token(t, "ops-2", "", "admin"), body)
	require.Equal(t, fiber.StatusOK, status)
}

func TestComplianceRoutes(t *testing.T) {
	app := newTestApp(t, &stubEscrows{})
	tok := token(t, "user-alice", "", "")

	status, body := do(t, app, fiber.MethodPost, "/api/v1/escrows/ESCROW-1/compliance/escalate", tok, `{"reason":"check"}`)
	require.Equal(t, fiber.StatusAccepted, status)
	require.Equal(t, "CMP-1", body["data"].(map[string]any)["reference"])

	status, body = do(t, app, fiber.MethodPost, "/api/v1/escrows/ESCROW-1/compliance/verify-tac", tok, `{"code":"000000"}`)
	require.Equal(t, fiber.StatusUnprocessableEntity, status)
	require.Equal(t, "mismatch", body["kind"])

	status, body = do(t, app, fiber.MethodGet, "/api/v1/escrows/ESCROW-1/compliance", tok, "")
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, "unknown", body["data"].(map[string]any)["status"])
}

func TestTacRoutes(t *testing.T) {
	app := newTestApp(t, &stubEscrows{})
	tok := token(t, "user-alice", "", "")

	status, body := do(t, app, fiber.MethodPost, "/api/v1/tac", tok, `{"purpose":"withdrawal"}`)
	require.Equal(t, fiber.StatusCreated, status)
	data := body["data"].(map[string]any)
	require.Equal(t, "withdrawal", data["purpose"])
	require.NotContains(t, data, "code")

	status, body = do(t, app, fiber.MethodPost, "/api/v1/tac/verify", tok, `{"purpose":"withdrawal","code":"123456"}`)
	require.Equal(t, fiber.StatusGone, status)
	require.Equal(t, "expired", body["kind"])
}
