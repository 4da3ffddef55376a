package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-orders/internal/logger"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "restaurant:r1:orders", Channel("r1"))
}

func TestRedisPublisher_Publish(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, Channel("r1"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewRedisPublisher(client)
	n, err := pub.Publish(ctx, Channel("r1"), Message{Type: "order.created", Payload: json.RawMessage(`{"_id":"o-1"}`)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	select {
	case msg := <-sub.Channel():
		var got Message
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, "order.created", got.Type)
		assert.JSONEq(t, `{"_id":"o-1"}`, string(got.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestRedisPublisher_ServerDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	mr.Close()

	_, err := NewRedisPublisher(client).Publish(context.Background(), Channel("r1"), Message{Type: "x"})
	assert.Error(t, err)
}

func TestFeed_StreamsChannelToWebsocket(t *testing.T) {
	_, client := setupTestRedis(t)
	feed := NewFeed(client, logger.Discard())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		feed.ServeRestaurant(w, r, "r1")
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// the subscription exists before the upgrade completes
	pub := NewRedisPublisher(client)
	n, err := pub.Publish(context.Background(), Channel("r1"), Message{Type: "order.status", Payload: json.RawMessage(`{"orderStatus":"accepted"}`)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got Message
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "order.status", got.Type)
}
