package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ComplianceHTTPClient talks to the compliance service internal API.
type ComplianceHTTPClient struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewComplianceHTTPClient(baseURL string, timeout time.Duration, log *zap.Logger) *ComplianceHTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ComplianceHTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type ComplianceRequest struct {
	AppObjectRef string         `json:"app_object_ref"`
	RequestType  string         `json:"request_type"`
	Metadata     map[string]any `json:"metadata"`
}

type ComplianceSubmission struct {
	Reference      string `json:"reference"`
	RequiresAction bool   `json:"requires_action"`
}

type ComplianceTACResult struct {
	Success bool `json:"success"`
	Valid   bool `json:"valid"`
}

func (c *ComplianceHTTPClient) SubmitRequest(ctx context.Context, req ComplianceRequest) (*ComplianceSubmission, error) {
	var result ComplianceSubmission
	if err := c.post(ctx, "/internal/compliance/requests", req, &result); err != nil {
		return nil, err
	}
	if result.Reference == "" {
		return nil, fmt.Errorf("compliance service returned no reference")
	}
	return &result, nil
}

func (c *ComplianceHTTPClient) VerifyTAC(ctx context.Context, reference, code string) (*ComplianceTACResult, error) {
	body := map[string]string{"reference": reference, "code": code}
	var result ComplianceTACResult
	if err := c.post(ctx, "/internal/compliance/verify-tac", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *ComplianceHTTPClient) GetStatus(ctx context.Context, reference string) (string, error) {
	u := fmt.Sprintf("%s/internal/compliance/requests/%s/status", c.baseURL, url.PathEscape(reference))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("compliance service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("compliance service returned %d: %s", resp.StatusCode, string(b))
	}

	var result struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Status, nil
}

func (c *ComplianceHTTPClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("compliance call failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("compliance service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("compliance service returned %d: %s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
