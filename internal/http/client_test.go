package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligustah/assetsync/internal/retry"
)

func TestGet(t *testing.T) {
	data := []byte("Hello, World! This is test data.")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "assetsync", r.Header.Get("User-Agent"))
		w.Write(data)
	}))
	defer server.Close()

	client := NewClient(DefaultOptions())
	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, data, body)
	assert.Equal(t, int64(len(data)), resp.ContentLength)
}

func TestGetStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		kind   retry.Kind
		target error
	}{
		{http.StatusNotFound, retry.Permanent, ErrNotFound},
		{http.StatusForbidden, retry.Permanent, ErrForbidden},
		{http.StatusUnauthorized, retry.Permanent, ErrUnauthorized},
		{http.StatusServiceUnavailable, retry.Network, ErrServerError},
		{http.StatusTooManyRequests, retry.Network, ErrBadStatus},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := NewClient(DefaultOptions()).Get(context.Background(), server.URL)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, tt.kind, retry.KindOf(err))
		})
	}
}

func TestGetConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewClient(DefaultOptions()).Get(context.Background(), url)
	require.Error(t, err)
	assert.Equal(t, retry.Network, retry.KindOf(err))
}

func TestContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(DefaultOptions()).Get(ctx, server.URL)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
