package remote

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

	"github.com/roach88/ferry/internal/record"
)

// Request headers sent with every create.
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderFingerprint    = "X-Payload-Fingerprint"
)

const (
	maxResponseBytes = 1 << 20
	maxErrorMessage  = 512
)

// HTTPAdapter creates records with POST {BaseURL}/collections/{name}.
//
// The request body is the payload verbatim. A 2xx response must carry a JSON
// object with a non-empty "id". Any other status becomes a *SubmissionError.
type HTTPAdapter struct {
	baseURL *url.URL
	client  *http.Client
	headers http.Header
}

// HTTPOption configures an HTTPAdapter.
type HTTPOption func(*HTTPAdapter)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(a *HTTPAdapter) {
		a.client = c
	}
}

// WithTimeout bounds each submission with a fresh client. A later
// WithHTTPClient replaces it.
func WithTimeout(d time.Duration) HTTPOption {
	return func(a *HTTPAdapter) {
		a.client = &http.Client{Timeout: d}
	}
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) HTTPOption {
	return func(a *HTTPAdapter) {
		a.headers.Add(key, value)
	}
}

// NewHTTPAdapter returns an adapter rooted at baseURL.
func NewHTTPAdapter(baseURL string, opts ...HTTPOption) (*HTTPAdapter, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote: base url %q must be http or https", baseURL)
	}

	a := &HTTPAdapter{
		baseURL: u,
		client:  &http.Client{Timeout: 30 * time.Second},
		headers: http.Header{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Create submits payload to collection with idempotencyKey.
func (a *HTTPAdapter) Create(ctx context.Context, collection string, payload json.RawMessage, idempotencyKey string) (Result, error) {
	fail := func(status int, msg string, err error) (Result, error) {
		return Result{}, &SubmissionError{
			Collection: collection,
			Key:        idempotencyKey,
			StatusCode: status,
			Message:    msg,
			Err:        err,
		}
	}

	endpoint := a.baseURL.JoinPath("collections", collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return fail(0, "build request", err)
	}

	for k, vs := range a.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderIdempotencyKey, idempotencyKey)
	if fp, err := record.Fingerprint(collection, payload); err == nil {
		req.Header.Set(HeaderFingerprint, fp)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fail(0, "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fail(0, "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(resp.StatusCode, errorMessage(body), nil)
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return fail(resp.StatusCode, "decode response", err)
	}
	if result.RemoteID == "" {
		return fail(resp.StatusCode, "response has no id", nil)
	}
	return result, nil
}

// errorMessage extracts a short message from an error body. JSON bodies of
// the form {"error": "..."} or {"message": "..."} yield the field; anything
// else is truncated text.
func errorMessage(body []byte) string {
	var structured struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &structured) == nil {
		if structured.Error != "" {
			return structured.Error
		}
		if structured.Message != "" {
			return structured.Message
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage]
	}
	return msg
}
