package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-orders/internal/config"
)

func newTestClient(url string) *Client {
	c := NewClient(config.PushConfig{BaseURL: url, APIKey: "secret", Timeout: time.Second})
	c.backoff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	return c
}

func TestClient_Send(t *testing.T) {
	var got Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/notifications", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Send(context.Background(), Notification{
		UserIDs:  []string{"u2"},
		UserType: UserTypeCustomer,
		Title:    "New order",
		Data:     map[string]string{"action": "pending", "orderId": "o-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, got.UserIDs)
	assert.Equal(t, "pending", got.Data["action"])
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(srv.URL).Send(context.Background(), Notification{UserIDs: []string{"u1"}}))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_ClientErrorIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Send(context.Background(), Notification{UserIDs: []string{"u1"}})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_GivesUp(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Send(context.Background(), Notification{UserIDs: []string{"u1"}})
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_Disabled(t *testing.T) {
	err := NewClient(config.PushConfig{}).Send(context.Background(), Notification{UserIDs: []string{"u1"}})
	assert.ErrorIs(t, err, ErrDisabled)
}
