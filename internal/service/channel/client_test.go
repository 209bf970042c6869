package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"SigRelay/internal/domain/repository"
	"SigRelay/pkg/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-token", logger.Nop(),
		WithRateLimit(1000, 100),
		WithBreaker(false))
}

func TestSendSuccess(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"ok":true}`))
	})

	err := c.Send(context.Background(), "chat-1", "hello")
	require.NoError(t, err)
	require.Equal(t, "/bottest-token/sendMessage", gotPath)
}

func TestSendRateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"ok":false,"description":"Too Many Requests","parameters":{"retry_after":7}}`))
	})

	err := c.Send(context.Background(), "chat-1", "hello")
	rl, ok := repository.AsRateLimited(err)
	require.True(t, ok)
	require.Equal(t, 7*time.Second, rl.RetryAfter)
}

func TestSendServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := c.Send(context.Background(), "chat-1", "hello")
	require.True(t, repository.IsTransient(err))
}

func TestSendBlockedRecipientIsPermanent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"ok":false,"description":"Forbidden: bot was blocked by the user"}`))
	})

	err := c.Send(context.Background(), "chat-1", "hello")
	require.True(t, repository.IsPermanent(err))
}

func TestSendUnknownRejectionIsUnclassified(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"Bad Request: message is too long"}`))
	})

	err := c.Send(context.Background(), "chat-1", "hello")
	require.Error(t, err)
	require.False(t, repository.IsTransient(err))
	require.False(t, repository.IsPermanent(err))
	_, rateLimited := repository.AsRateLimited(err)
	require.False(t, rateLimited)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "test-token", logger.Nop(), WithRateLimit(1000, 100))

	for i := 0; i < 5; i++ {
		err := c.Send(context.Background(), "chat-1", "hello")
		require.True(t, repository.IsTransient(err))
	}

	// breaker is open now, requests fail fast but stay transient
	err := c.Send(context.Background(), "chat-1", "hello")
	require.True(t, repository.IsTransient(err))
}
