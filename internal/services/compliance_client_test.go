package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fundsafe/backend/internal/events"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestComplianceHTTPClient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/internal/compliance/requests", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var req ComplianceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "ESCROW-0A0B0C0D", req.AppObjectRef)
		require.Equal(t, ComplianceRequestDispute, req.RequestType)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(ComplianceSubmission{Reference: "CMP-77", RequiresAction: true})
	})
	mux.HandleFunc("/internal/compliance/verify-tac", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		valid := body["reference"] == "CMP-77" && body["code"] == "123456"
		_ = json.NewEncoder(w).Encode(ComplianceTACResult{Success: true, Valid: valid})
	})
	mux.HandleFunc("/internal/compliance/requests/CMP-77/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"approved"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewComplianceHTTPClient(srv.URL+"/", time.Second, zap.NewNop())
	ctx := context.Background()

	sub, err := c.SubmitRequest(ctx, ComplianceRequest{AppObjectRef: "ESCROW-0A0B0C0D", RequestType: ComplianceRequestDispute})
	require.NoError(t, err)
	require.Equal(t, "CMP-77", sub.Reference)
	require.True(t, sub.RequiresAction)

	res, err := c.VerifyTAC(ctx, "CMP-77", "123456")
	require.NoError(t, err)
	require.True(t, res.Valid)

	res, err = c.VerifyTAC(ctx, "CMP-77", "654321")
	require.NoError(t, err)
	require.False(t, res.Valid)

	status, err := c.GetStatus(ctx, "CMP-77")
	require.NoError(t, err)
	require.Equal(t, "approved", status)
}

func TestComplianceHTTPClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewComplianceHTTPClient(srv.URL, time.Second, zap.NewNop())
	_, err := c.SubmitRequest(context.Background(), ComplianceRequest{AppObjectRef: "ESCROW-1"})
	require.ErrorContains(t, err, "503")

	_, err = c.GetStatus(context.Background(), "CMP-1")
	require.ErrorContains(t, err, "503")
}

func TestComplianceHTTPClientTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	c := NewComplianceHTTPClient(srv.URL, 50*time.Millisecond, zap.NewNop())
	_, err := c.SubmitRequest(context.Background(), ComplianceRequest{AppObjectRef: "ESCROW-1"})
	require.ErrorContains(t, err, "compliance service unavailable")
}

func TestComplianceHTTPClientEmptyReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"requires_action":false}`))
	}))
	defer srv.Close()

	c := NewComplianceHTTPClient(srv.URL, time.Second, zap.NewNop())
	_, err := c.SubmitRequest(context.Background(), ComplianceRequest{AppObjectRef: "ESCROW-1"})
	require.ErrorContains(t, err, "no reference")
}

func TestDeliveryClient(t *testing.T) {
	got := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/internal/notify", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got <- body
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewDeliveryClient(srv.URL, zap.NewNop())
	err := c.Deliver(context.Background(), events.Event{
		Type: events.EventNotification,
		Payload: map[string]any{
			"to":       "user-bob",
			"template": TemplateDisputeOpened,
			"context":  map[string]any{"escrow_id": "ESCROW-1"},
		},
	})
	require.NoError(t, err)
	body := <-got
	require.Equal(t, "user-bob", body["to"])
	require.Equal(t, TemplateDisputeOpened, body["template"])

	require.NoError(t, c.Deliver(context.Background(), events.Event{Payload: map[string]any{}}), "no recipient is skipped")
}
