package render

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edcomposer/internal/pkg/errors"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(srv.URL+"/api", 0)
	require.NoError(t, err)
	return c
}

func TestHTTPClient_Submit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/jobs", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "edcomposer", body["compositionId"])
		assert.Equal(t, map[string]any{"prompt": "black holes"}, body["inputProps"])

		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"id":"j1"}`)
	})

	handle, err := c.Submit(context.Background(), blackHoles())
	require.NoError(t, err)
	assert.Equal(t, JobHandle("j1"), handle)
}

func TestHTTPClient_SubmitErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   errors.Code
		detail string
	}{
		{"rejected", http.StatusBadRequest, `{"error":"unknown composition"}`, errors.CodeSubmission, "backend http 400: unknown composition"},
		{"server error", http.StatusBadGateway, `upstream down`, errors.CodeTransport, "backend http 502: upstream down"},
		{"missing id", http.StatusOK, `{}`, errors.CodeMalformedResponse, "submit response carries no job id"},
		{"not json", http.StatusOK, `<html>`, errors.CodeMalformedResponse, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := c.Submit(context.Background(), blackHoles())
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
			if tt.detail != "" {
				assert.Equal(t, tt.detail, errors.Detail(err))
			}
		})
	}
}

func TestHTTPClient_SubmitUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c, err := NewHTTPClient(addr, 0)
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), blackHoles())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeTransport))
	assert.True(t, errors.IsTransient(err))
}

func TestHTTPClient_Poll(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/jobs/j%201", r.URL.EscapedPath())
		_, _ = io.WriteString(w, `{"status":"rendering","percent":42}`)
	})

	snap, err := c.Poll(context.Background(), "j 1")
	require.NoError(t, err)
	assert.Equal(t, BackendRendering, snap.Status)
	require.NotNil(t, snap.Percent)
	assert.Equal(t, 42, *snap.Percent)
}

func TestHTTPClient_PollClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		code      errors.Code
		transient bool
	}{
		{"unknown job", http.StatusNotFound, `{"error":"no such job"}`, errors.CodePollFatal, false},
		{"rate limited", http.StatusTooManyRequests, ``, errors.CodePollTransient, true},
		{"unavailable", http.StatusServiceUnavailable, `{"error":{"message":"warming up"}}`, errors.CodePollTransient, true},
		{"forbidden", http.StatusForbidden, ``, errors.CodePollFatal, false},
		{"unknown status", http.StatusOK, `{"status":"paused"}`, errors.CodeMalformedResponse, false},
		{"garbage", http.StatusOK, `not json`, errors.CodeMalformedResponse, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := c.Poll(context.Background(), "j1")
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
			assert.Equal(t, tt.transient, errors.IsTransient(err))
		})
	}
}

func TestHTTPClient_PollSucceeded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"status":"succeeded","outputUrl":"https://cdn.example.com/j1.mp4"}`)
	})

	snap, err := c.Poll(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, BackendSucceeded, snap.Status)
	assert.Equal(t, "https://cdn.example.com/j1.mp4", snap.OutputURL)
	assert.Nil(t, snap.Percent)
}

func TestHTTPClient_Abort(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"accepted", http.StatusAccepted, false},
		{"already gone", http.StatusNotFound, false},
		{"conflict", http.StatusConflict, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodDelete, r.Method)
				assert.Equal(t, "/api/jobs/j1", r.URL.Path)
				w.WriteHeader(tt.status)
			})

			err := c.Abort(context.Background(), "j1")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewHTTPClient_BaseURL(t *testing.T) {
	c, err := NewHTTPClient("localhost:3000/", 0)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000/", c.BaseURL())

	_, err = NewHTTPClient("   ", 0)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}
