package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-orders/internal/config"
	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/messaging"
	"restaurant-orders/internal/models"
	"restaurant-orders/internal/push"
	"restaurant-orders/internal/realtime"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []push.Notification
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, note push.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, note)
	return nil
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func createdEvent() *models.OrderEvent {
	return &models.OrderEvent{
		Type:         models.EventOrderCreated,
		RestaurantID: "r1",
		OwnerID:      "owner-1",
		ActorID:      "u1",
		OrderID:      "o-1",
		OrderNumber:  "ORD_20260601_ABC123",
		Guests:       []string{"u1", "u2", "u3"},
		Payload:      json.RawMessage(`{"_id":"o-1"}`),
	}
}

func TestNotifications(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		out := Notifications(createdEvent())
		require.Len(t, out, 2)
		assert.Equal(t, []string{"owner-1"}, out[0].UserIDs)
		assert.Equal(t, push.UserTypeRestaurant, out[0].UserType)
		assert.Equal(t, []string{"u2", "u3"}, out[1].UserIDs)
		assert.Equal(t, push.UserTypeCustomer, out[1].UserType)
		assert.Equal(t, map[string]string{"action": ActionPending, "orderId": "o-1"}, out[1].Data)
	})

	t.Run("created alone", func(t *testing.T) {
		ev := createdEvent()
		ev.Guests = []string{"u1"}
		out := Notifications(ev)
		require.Len(t, out, 1)
		assert.Equal(t, push.UserTypeRestaurant, out[0].UserType)
	})

	t.Run("updated skips actor", func(t *testing.T) {
		ev := createdEvent()
		ev.Type = models.EventOrderUpdated
		ev.ActorID = "u2"
		out := Notifications(ev)
		require.Len(t, out, 1)
		assert.Equal(t, []string{"u1", "u3"}, out[0].UserIDs)
	})

	t.Run("status reaches every guest", func(t *testing.T) {
		ev := createdEvent()
		ev.Type = models.EventOrderStatus
		ev.NewStatus = models.StatusAccepted
		out := Notifications(ev)
		require.Len(t, out, 1)
		assert.Equal(t, []string{"u1", "u2", "u3"}, out[0].UserIDs)
		assert.Contains(t, out[0].Body, "accepted")
	})

	t.Run("deleted", func(t *testing.T) {
		ev := models.NewDeletedEvent(&models.Order{ID: "o-1", Restaurant: "r1"})
		assert.Empty(t, Notifications(ev))
	})
}

func TestDispatcher_PublishesAndPushes(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, realtime.Channel("r1"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	d := NewDispatcher(realtime.NewRedisPublisher(client), notifier, logger.Discard(), nil)
	require.NoError(t, d.Dispatch(ctx, createdEvent()))

	select {
	case msg := <-sub.Channel():
		var got realtime.Message
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, "order.created", got.Type)
		assert.JSONEq(t, `{"_id":"o-1"}`, string(got.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("realtime message not delivered")
	}
	assert.Len(t, notifier.sent, 2)
}

func TestDispatcher_FailuresDoNotStopOtherTargets(t *testing.T) {
	mr, client := setupRedis(t)
	mr.Close()

	notifier := &recordingNotifier{}
	d := NewDispatcher(realtime.NewRedisPublisher(client), notifier, logger.Discard(), nil)
	err := d.Dispatch(context.Background(), createdEvent())
	require.Error(t, err)
	assert.Len(t, notifier.sent, 2, "push still attempted")

	_, client = setupRedis(t)
	notifier.err = errors.New("provider down")
	d = NewDispatcher(realtime.NewRedisPublisher(client), notifier, logger.Discard(), nil)
	err = d.Dispatch(context.Background(), createdEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")
}

func TestDispatcher_PushDisabled(t *testing.T) {
	_, client := setupRedis(t)
	d := NewDispatcher(realtime.NewRedisPublisher(client), push.NewClient(config.PushConfig{}), logger.Discard(), nil)
	assert.NoError(t, d.Dispatch(context.Background(), createdEvent()))
}

func TestDispatcher_WithPushProvider(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []push.Notification
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n push.Notification
		if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	_, client := setupRedis(t)
	notifier := push.NewClient(config.PushConfig{BaseURL: srv.URL, Timeout: time.Second})
	d := NewDispatcher(realtime.NewRedisPublisher(client), notifier, logger.Discard(), nil)

	ev := createdEvent()
	ev.Type = models.EventOrderStatus
	ev.NewStatus = models.StatusPreparing
	require.NoError(t, d.Dispatch(context.Background(), ev))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, "preparing", seen[0].Data["status"])
}

func TestSubscriber_HandleEvent(t *testing.T) {
	_, client := setupRedis(t)
	notifier := &recordingNotifier{}
	s := NewSubscriber(nil, NewDispatcher(realtime.NewRedisPublisher(client), notifier, logger.Discard(), nil), logger.Discard())
	ctx := context.Background()

	assert.NoError(t, s.handleEvent(ctx, []byte("garbage")))
	assert.NoError(t, s.handleEvent(ctx, []byte(`{"type":"order.created"}`)))
	assert.Empty(t, notifier.sent)

	body, err := json.Marshal(createdEvent())
	require.NoError(t, err)
	require.NoError(t, s.handleEvent(ctx, body))
	assert.Len(t, notifier.sent, 2)

	notifier.err = errors.New("provider down")
	assert.NoError(t, s.handleEvent(ctx, body), "dispatch failures are acked")
}

type stubConsumer struct {
	err error
}

func (c stubConsumer) StartConsuming(ctx context.Context, _ messaging.MessageHandler) error {
	if c.err != nil {
		return c.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (stubConsumer) Close() error { return nil }

func TestSubscriber_Start(t *testing.T) {
	_, client := setupRedis(t)
	d := NewDispatcher(realtime.NewRedisPublisher(client), &recordingNotifier{}, logger.Discard(), nil)

	t.Run("consumer failure is returned", func(t *testing.T) {
		s := NewSubscriber(stubConsumer{err: errors.New("reconnect attempts exhausted")}, d, logger.Discard())
		err := s.Start(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reconnect attempts exhausted")
	})

	t.Run("cancel stops cleanly", func(t *testing.T) {
		s := NewSubscriber(stubConsumer{}, d, logger.Discard())
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		assert.NoError(t, s.Start(ctx))
	})
}
