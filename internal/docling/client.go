// Package docling is the HTTP client for the remote document-conversion
// service. It normalizes transport failures into a small error taxonomy and
// parses responses into strict types at this boundary; anything with an
// unexpected shape fails closed as ErrTransport.
package docling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nmalhotra/docwatch/pkg/models"
)

// Client is the interface for talking to the conversion service. No method
// retries internally; retry policy belongs to the poller.
type Client interface {
	Submit(ctx context.Context, path string) (*models.UploadReceipt, error)
	Status(ctx context.Context, jobID string) (*models.StatusSnapshot, error)
	Result(ctx context.Context, jobID string) (*models.ResultDocument, error)
	Download(ctx context.Context, jobID string, format models.Format) ([]byte, string, error)
	ListJobs(ctx context.Context, page, perPage int, status string) (*models.JobPage, error)
	CancelJob(ctx context.Context, jobID string) error
	Health(ctx context.Context) error
}

// HTTPClient implements Client against the service's HTTP API.
type HTTPClient struct {
	baseURL     string
	maxFileSize int64
	client      *http.Client
}

// NewHTTPClient creates a client with a bounded per-call timeout. A
// maxFileSize of zero or less falls back to DefaultMaxFileSize.
func NewHTTPClient(baseURL string, timeout time.Duration, maxFileSize int64) *HTTPClient {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &HTTPClient{
		baseURL:     baseURL,
		maxFileSize: maxFileSize,
		client:      &http.Client{Timeout: timeout},
	}
}

// Submit validates the file locally, then uploads it. Validation errors are
// returned before any network traffic happens.
func (c *HTTPClient) Submit(ctx context.Context, path string) (*models.UploadReceipt, error) {
	if err := ValidateFile(path, c.maxFileSize); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("building multipart body: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("building multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusRequestEntityTooLarge:
		return nil, fmt.Errorf("%w: rejected by service", ErrFileTooLarge)
	case http.StatusUnsupportedMediaType:
		return nil, fmt.Errorf("%w: rejected by service", ErrUnsupportedType)
	default:
		return nil, fmt.Errorf("%w: upload returned status %d", ErrTransport, resp.StatusCode)
	}

	var receipt models.UploadReceipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("%w: decoding upload response: %v", ErrTransport, err)
	}
	if receipt.JobID == "" {
		return nil, fmt.Errorf("%w: upload response missing job_id", ErrTransport)
	}
	return &receipt, nil
}

// Status fetches one status snapshot. A 404 means the job is gone, which
// callers must treat as a hard failure.
func (c *HTTPClient) Status(ctx context.Context, jobID string) (*models.StatusSnapshot, error) {
	u := fmt.Sprintf("%s/status/%s", c.baseURL, url.PathEscape(jobID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	default:
		return nil, fmt.Errorf("%w: status endpoint returned %d", ErrTransport, resp.StatusCode)
	}

	var snap models.StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: decoding status response: %v", ErrTransport, err)
	}
	switch snap.Status {
	case models.StatusPending, models.StatusProcessing, models.StatusCompleted, models.StatusFailed:
	default:
		return nil, fmt.Errorf("%w: unknown job status %q", ErrTransport, snap.Status)
	}
	if snap.Progress < 0 {
		snap.Progress = 0
	}
	if snap.Progress > 100 {
		snap.Progress = 100
	}
	return &snap, nil
}

// Result fetches the full conversion output. Valid only once the job is
// completed; the service answers 404 until then and after expiry.
func (c *HTTPClient) Result(ctx context.Context, jobID string) (*models.ResultDocument, error) {
	u := fmt.Sprintf("%s/result/%s", c.baseURL, url.PathEscape(jobID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: job %s", ErrResultNotReady, jobID)
	default:
		return nil, fmt.Errorf("%w: result endpoint returned %d", ErrTransport, resp.StatusCode)
	}

	var doc models.ResultDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decoding result response: %v", ErrTransport, err)
	}
	return &doc, nil
}

// Download fetches the converted document in one format. It returns the raw
// bytes plus the filename suggested by the service, if any.
func (c *HTTPClient) Download(ctx context.Context, jobID string, format models.Format) ([]byte, string, error) {
	if _, ok := models.ParseFormat(string(format)); !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	u := fmt.Sprintf("%s/download/%s?format=%s", c.baseURL, url.PathEscape(jobID), url.QueryEscape(string(format)))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, "", classifyError(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest:
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	case http.StatusNotFound:
		return nil, "", fmt.Errorf("%w: job %s", ErrResultNotReady, jobID)
	default:
		return nil, "", fmt.Errorf("%w: download endpoint returned %d", ErrTransport, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: reading download body: %v", ErrTransport, err)
	}
	return data, dispositionFilename(resp.Header.Get("Content-Disposition")), nil
}

// ListJobs fetches one page of the service's job listing.
func (c *HTTPClient) ListJobs(ctx context.Context, page, perPage int, status string) (*models.JobPage, error) {
	params := url.Values{}
	if page > 0 {
		params.Set("page", strconv.Itoa(page))
	}
	if perPage > 0 {
		params.Set("per_page", strconv.Itoa(perPage))
	}
	if status != "" {
		params.Set("status", status)
	}
	u := c.baseURL + "/jobs"
	if encoded := params.Encode(); encoded != "" {
		u += "?" + encoded
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: jobs endpoint returned %d", ErrTransport, resp.StatusCode)
	}

	var pageResp models.JobPage
	if err := json.NewDecoder(resp.Body).Decode(&pageResp); err != nil {
		return nil, fmt.Errorf("%w: decoding jobs response: %v", ErrTransport, err)
	}
	return &pageResp, nil
}

// CancelJob asks the service to stop a running job.
func (c *HTTPClient) CancelJob(ctx context.Context, jobID string) error {
	u := fmt.Sprintf("%s/jobs/%s", c.baseURL, url.PathEscape(jobID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	default:
		return fmt.Errorf("%w: cancel returned status %d", ErrTransport, resp.StatusCode)
	}
}

// Health checks service liveness. Polled independently of any job.
func (c *HTTPClient) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: service not healthy (status %d)", ErrTransport, resp.StatusCode)
	}
	return nil
}

// classifyError maps transport-level errors to ErrTransport, preserving the
// underlying cause in the message.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: timeout: %v", ErrTransport, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrTransport, err)
	}

	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// dispositionFilename extracts the filename from a Content-Disposition
// header, returning "" when absent or malformed.
func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
