package render

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

	"edcomposer/internal/pkg/errors"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultUserAgent      = "edcomposer/0.1"
	maxErrorBody          = 512
)

// Ensure HTTPClient implements Backend at compile time.
var _ Backend = (*HTTPClient)(nil)

// HTTPClient talks to the render backend over its JSON job API.
type HTTPClient struct {
	baseURL   *url.URL
	client    *http.Client
	userAgent string
}

// NewHTTPClient builds a client for baseURL. A zero timeout uses the default.
func NewHTTPClient(baseURL string, timeout time.Duration) (*HTTPClient, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &HTTPClient{
		baseURL:   base,
		client:    &http.Client{Timeout: timeout},
		userAgent: defaultUserAgent,
	}, nil
}

// BaseURL returns the backend address.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL.String()
}

type submitResponse struct {
	ID string `json:"id"`
}

// Submit posts the request to /jobs and returns the job handle.
func (c *HTTPClient) Submit(ctx context.Context, req Request) (JobHandle, error) {
	const op = "render.submit"

	body, err := json.Marshal(req)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.CodeValidation, op, "encode render request")
	}

	res, err := c.do(ctx, http.MethodPost, body, "jobs")
	if err != nil {
		return "", errors.WrapWithCode(err, errors.CodeTransport, op, "render backend unreachable")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		code := errors.CodeSubmission
		if res.StatusCode >= 500 {
			code = errors.CodeTransport
		}
		return "", errors.New(code, backendMessage(res)).
			WithField("status", res.StatusCode).
			WithField("composition", req.CompositionID)
	}

	var payload submitResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", errors.WrapWithCode(err, errors.CodeMalformedResponse, op, "decode submit response")
	}
	if strings.TrimSpace(payload.ID) == "" {
		return "", errors.New(errors.CodeMalformedResponse, "submit response carries no job id")
	}
	return JobHandle(payload.ID), nil
}

// Poll reads GET /jobs/{id}.
func (c *HTTPClient) Poll(ctx context.Context, handle JobHandle) (PollSnapshot, error) {
	const op = "render.poll"

	res, err := c.do(ctx, http.MethodGet, nil, "jobs", url.PathEscape(string(handle)))
	if err != nil {
		return PollSnapshot{}, errors.WrapWithCode(err, errors.CodePollTransient, op, "poll request failed")
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return PollSnapshot{}, errors.New(errors.CodePollFatal, "unknown job id").
			WithField("job_id", string(handle))
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return PollSnapshot{}, errors.New(errors.CodePollTransient, backendMessage(res)).
			WithField("status", res.StatusCode)
	case res.StatusCode < 200 || res.StatusCode >= 300:
		return PollSnapshot{}, errors.New(errors.CodePollFatal, backendMessage(res)).
			WithField("status", res.StatusCode)
	}

	var snap PollSnapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		return PollSnapshot{}, errors.WrapWithCode(err, errors.CodeMalformedResponse, op, "decode job status")
	}
	switch snap.Status {
	case BackendQueued, BackendRendering, BackendSucceeded, BackendFailed:
	default:
		return PollSnapshot{}, errors.Newf(errors.CodeMalformedResponse, "unknown job status %q", snap.Status)
	}
	return snap, nil
}

// Abort sends DELETE /jobs/{id}. A job the backend no longer knows counts as
// aborted.
func (c *HTTPClient) Abort(ctx context.Context, handle JobHandle) error {
	res, err := c.do(ctx, http.MethodDelete, nil, "jobs", url.PathEscape(string(handle)))
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeTransport, "render.abort", "abort request failed")
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode == http.StatusNotFound || (res.StatusCode >= 200 && res.StatusCode < 300) {
		return nil
	}
	return errors.Newf(errors.CodeUnavailable, "abort returned status %d", res.StatusCode).
		WithField("job_id", string(handle))
}

// do sends one request to the base URL joined with the already escaped
// path segments.
func (c *HTTPClient) do(ctx context.Context, method string, body []byte, segments ...string) (*http.Response, error) {
	reqURL := c.baseURL.JoinPath(segments...)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return res, nil
}

// backendMessage extracts {"error": "..."} from a failed response, falling
// back to the raw body.
func backendMessage(res *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Error) > 0 {
		var msg string
		if err := json.Unmarshal(envelope.Error, &msg); err == nil && msg != "" {
			return fmt.Sprintf("backend http %d: %s", res.StatusCode, msg)
		}
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(envelope.Error, &nested); err == nil && nested.Message != "" {
			return fmt.Sprintf("backend http %d: %s", res.StatusCode, nested.Message)
		}
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		return fmt.Sprintf("backend http %d", res.StatusCode)
	}
	return fmt.Sprintf("backend http %d: %s", res.StatusCode, text)
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.ValidationField("renderer_base_url", "renderer base url is required")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeValidation, "render.client", "parse renderer base url")
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
