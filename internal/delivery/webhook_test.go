package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicepassport/internal/platform/config"
	dErrors "voicepassport/pkg/domain-errors"
)

func fastPolicy(maxAttempts int) config.Retry {
	return config.Retry{
		MaxAttempts:     maxAttempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestDeliverSucceedsFirstAttempt(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook(fastPolicy(3))
	err := w.Deliver(context.Background(), srv.URL, map[string]string{"user_id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", got["user_id"])
}

func TestDeliverRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			rw.WriteHeader(http.StatusInternalServerError)
			return
		}
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook(fastPolicy(5))
	err := w.Deliver(context.Background(), srv.URL, map[string]string{"user_id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDeliverExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		rw.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWebhook(fastPolicy(3))
	err := w.Deliver(context.Background(), srv.URL, map[string]string{"user_id": "u1"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeDeliveryExhausted))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDeliverRejectsMalformedURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{name: "empty", url: ""},
		{name: "relative", url: "/hooks/result"},
		{name: "no scheme", url: "example.com/hook"},
		{name: "bad scheme", url: "ftp://example.com/hook"},
		{name: "no host", url: "http:///hook"},
	}
	w := NewWebhook(fastPolicy(3))
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := w.Deliver(context.Background(), tc.url, map[string]string{})
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}

func TestDeliverStopsOnContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewWebhook(fastPolicy(10))
	err := w.Deliver(ctx, srv.URL, map[string]string{})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeDeliveryExhausted))
}
