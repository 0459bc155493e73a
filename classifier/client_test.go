package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pevans/buloradar/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUnit = content.NewUnit(content.KindText, "Las vacunas contienen microchips", "https://example.com/post")

// Test helper: create a client pointing at handler
func newTestClient(t *testing.T, timeout time.Duration, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{Endpoint: server.URL, Timeout: timeout}, nil)
	require.NoError(t, err)
	return client
}

// TestClassify_Flagged verifies request shape and verdict decoding
func TestClassify_Flagged(t *testing.T) {
	var got Request
	client := newTestClient(t, time.Second, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"isFlagged": true,
			"title": "Vacunas con microchips",
			"description": "Teoría conspirativa",
			"explanation": "Los estudios demuestran su composición",
			"sources": [{"name": "Maldita.es", "url": "https://maldita.es/a"}],
			"reference": "42"
		}`))
	})

	verdict, err := client.Classify(context.Background(), testUnit)
	require.NoError(t, err)

	assert.Equal(t, content.KindText, got.Kind)
	assert.Equal(t, testUnit.Payload, got.Payload)
	assert.Equal(t, "https://example.com/post", got.SourceURL)

	assert.Equal(t, testUnit.ID, verdict.UnitID)
	assert.True(t, verdict.IsFlagged)
	assert.Equal(t, "Vacunas con microchips", verdict.Title)
	assert.Equal(t, "Los estudios demuestran su composición", verdict.Explanation)
	assert.Equal(t, []content.Source{{Name: "Maldita.es", URL: "https://maldita.es/a"}}, verdict.Sources)
	assert.Equal(t, "42", verdict.Reference)
}

// TestClassify_NotFlagged verifies a clean verdict needs no title
func TestClassify_NotFlagged(t *testing.T) {
	client := newTestClient(t, time.Second, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"isFlagged": false}`))
	})

	verdict, err := client.Classify(context.Background(), testUnit)
	require.NoError(t, err)
	assert.False(t, verdict.IsFlagged)
	assert.Empty(t, verdict.Sources)
}

// TestClassify_Timeout verifies a slow service yields ErrTimeout
func TestClassify_Timeout(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, 50*time.Millisecond, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	_, err := client.Classify(context.Background(), testUnit)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrNetwork)
}

// TestClassify_ServerError verifies non-2xx statuses are network errors and
// are not retried
func TestClassify_ServerError(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, time.Second, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Classify(context.Background(), testUnit)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, int32(1), calls.Load(), "should not retry")
}

// TestClassify_ConnectionRefused verifies transport failures are network
// errors
func TestClassify_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close()

	client, err := NewClient(Config{Endpoint: endpoint, Timeout: time.Second}, nil)
	require.NoError(t, err)

	_, err = client.Classify(context.Background(), testUnit)
	assert.ErrorIs(t, err, ErrNetwork)
}

// TestClassify_InvalidResponse verifies malformed payloads are rejected
func TestClassify_InvalidResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `<html>oops</html>`},
		{name: "missing isFlagged", body: `{"title": "x"}`},
		{name: "flagged without title", body: `{"isFlagged": true}`},
		{name: "bad source url", body: `{"isFlagged": true, "title": "x", "sources": [{"name": "n", "url": "javascript:alert(1)"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, time.Second, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})

			_, err := client.Classify(context.Background(), testUnit)
			assert.ErrorIs(t, err, ErrInvalidResponse)
		})
	}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.Error(t, err)

	_, err = NewClient(Config{Endpoint: "not a url"}, nil)
	assert.Error(t, err)

	client, err := NewClient(Config{Endpoint: "http://localhost:1/classify"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, client.config.Timeout)
}
