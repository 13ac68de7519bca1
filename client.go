package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxErrorBody = 4 << 10

// APIError is a non-2xx answer from the emissions API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// apiClient talks to the emissions REST API. The base URL is fixed per session.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func newAPIClient(cfg *Config, logger *slog.Logger) *apiClient {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &apiClient{
		baseURL: strings.TrimRight(cfg.APIBase, "/"),
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		logger: logger,
	}
}

// Summary returns the decoded, not yet normalized, summary document.
func (c *apiClient) Summary(ctx context.Context, filter FilterSelection) (any, error) {
	path := "/dashboard/summary"
	if query := filter.Query().Encode(); query != "" {
		path += "?" + query
	}
	body, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	return decodeSummary(body)
}

func (c *apiClient) BusinessUnits(ctx context.Context) ([]string, error) {
	return c.stringList(ctx, "/business-units")
}

func (c *apiClient) ActivityTypes(ctx context.Context) ([]string, error) {
	return c.stringList(ctx, "/activity-types")
}

func (c *apiClient) SubmitEntry(ctx context.Context, entry EmissionEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	_, err = c.do(ctx, http.MethodPost, "/upload/csv", "application/json", bytes.NewReader(payload))
	return err
}

func (c *apiClient) UploadCSV(ctx context.Context, filename string, content io.Reader) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("read csv: %w", err)
	}
	if err := writer.Close(); err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, "/upload/csv", writer.FormDataContentType(), body)
	return err
}

func (c *apiClient) Advice(ctx context.Context, vm DashboardViewModel) (string, error) {
	payload, err := json.Marshal(vm)
	if err != nil {
		return "", fmt.Errorf("encode dashboard: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, "/advice", "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	var result struct {
		Advice *string `json:"advice"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("%w: %v", errMalformedResponse, err)
	}
	if result.Advice == nil {
		return "", fmt.Errorf("%w: advice field missing", errMalformedResponse)
	}
	return *result.Advice, nil
}

func (c *apiClient) stringList(ctx context.Context, path string) ([]string, error) {
	body, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	var items []string
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedResponse, err)
	}
	return items, nil
}

func (c *apiClient) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("api request failed", "method", method, "path", path, "request_id", requestID, "error", err)
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	c.logger.Debug("api request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration", time.Since(started),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

func errorMessage(raw []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 200 {
		text = text[:200] + "…"
	}
	return text
}

// describeError turns a fetch failure into the one-line banner text.
func describeError(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &apiErr):
		return apiErr.Error()
	case errors.Is(err, errMalformedResponse):
		return "the server sent a response that could not be read"
	case errors.Is(err, context.DeadlineExceeded):
		return "the server did not answer in time"
	default:
		return err.Error()
	}
}
