// Package provider talks to the external video generation service and probes
// the artifacts it produces.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/reelforge-backend/internal/config"
)

// GenerationStatus is the provider-side state of a generation
type GenerationStatus string

const (
	GenerationQueued    GenerationStatus = "queued"
	GenerationRunning   GenerationStatus = "running"
	GenerationSucceeded GenerationStatus = "succeeded"
	GenerationFailed    GenerationStatus = "failed"
)

// IsTerminal reports whether polling can stop
func (s GenerationStatus) IsTerminal() bool {
	return s == GenerationSucceeded || s == GenerationFailed
}

// APIError is the error object in provider response bodies
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Generation is the provider's view of one submitted request
type Generation struct {
	ID          string           `json:"id"`
	Status      GenerationStatus `json:"status"`
	ArtifactURL string           `json:"artifact_url,omitempty"`
	Error       *APIError        `json:"error,omitempty"`
}

// Client is the generation provider contract used by the worker
type Client interface {
	Submit(ctx context.Context, credential string, params json.RawMessage) (*Generation, error)
	Poll(ctx context.Context, credential string, generationID string) (*Generation, error)
	Download(ctx context.Context, artifactURL string) (io.ReadCloser, error)
}

var _ Client = (*HTTPClient)(nil)

type HTTPClient struct {
	baseURL        string
	http           *http.Client
	requestTimeout time.Duration
	logger         *slog.Logger
}

func NewHTTPClient(cfg *config.ProviderConfig, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		http:           &http.Client{},
		requestTimeout: cfg.RequestTimeout,
		logger:         logger,
	}
}

// Submit starts a generation with params
func (c *HTTPClient) Submit(ctx context.Context, credential string, params json.RawMessage) (*Generation, error) {
	var gen Generation
	if err := c.doJSON(ctx, "submit", http.MethodPost, c.baseURL+"/v1/generations", credential, params, &gen); err != nil {
		return nil, err
	}
	if gen.ID == "" {
		return nil, &Error{Op: "submit", Kind: KindUnknown, Message: "response carried no generation id"}
	}
	return &gen, nil
}

// Poll fetches the current state of a generation. A failed generation is
// returned as an *Error so callers classify it like a transport failure.
func (c *HTTPClient) Poll(ctx context.Context, credential string, generationID string) (*Generation, error) {
	var gen Generation
	endpoint := c.baseURL + "/v1/generations/" + url.PathEscape(generationID)
	if err := c.doJSON(ctx, "poll", http.MethodGet, endpoint, credential, nil, &gen); err != nil {
		return nil, err
	}

	if gen.Status == GenerationFailed {
		perr := &Error{Op: "generation", Kind: KindUnknown}
		if gen.Error != nil {
			perr.Code = gen.Error.Code
			perr.Message = gen.Error.Message
			perr.Kind = kindFor(0, gen.Error.Code)
		}
		return &gen, perr
	}
	return &gen, nil
}

// Download streams the artifact. The body is bounded by ctx, not by the
// per-request timeout, since large files outlive it.
func (c *HTTPClient) Download(ctx context.Context, artifactURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifactURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider download failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.errorFromResponse("download", resp)
	}
	return resp.Body, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, op, method, endpoint, credential string, body json.RawMessage, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("provider %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Provider call finished",
		"op", op,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.errorFromResponse(op, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode provider %s response: %w", op, err)
	}
	return nil
}

func (c *HTTPClient) errorFromResponse(op string, resp *http.Response) error {
	var envelope struct {
		Error APIError `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error.Message == "" {
		envelope.Error.Message = strings.TrimSpace(string(raw))
	}

	return &Error{
		Op:         op,
		Kind:       kindFor(resp.StatusCode, envelope.Error.Code),
		StatusCode: resp.StatusCode,
		Code:       envelope.Error.Code,
		Message:    envelope.Error.Message,
	}
}

// AsError unwraps a provider *Error from err
func AsError(err error) (*Error, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}
