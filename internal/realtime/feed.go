package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"

	"restaurant-orders/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Feed bridges a restaurant's Redis channel to websocket clients. Each
// client gets its own subscription, which ends when the socket closes.
type Feed struct {
	client   *redis.Client
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

func NewFeed(client *redis.Client, log *logger.Logger) *Feed {
	return &Feed{
		client: client,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: log,
	}
}

// ServeRestaurant upgrades the request and streams every message published
// on the restaurant channel until the client goes away.
func (f *Feed) ServeRestaurant(w http.ResponseWriter, r *http.Request, restaurantID string) {
	requestID := logger.RequestID(r.Context())
	channel := Channel(restaurantID)

	// Subscribe before upgrading so a dead Redis is a plain HTTP error.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pubsub := f.client.Subscribe(ctx, channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(r.Context()); err != nil {
		f.logger.Error("live_subscribe_failed", "Failed to subscribe to restaurant channel", requestID, err,
			map[string]interface{}{"channel": channel})
		http.Error(w, "realtime channel unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		f.logger.Debug("live_upgrade_failed", "WebSocket upgrade failed", requestID, map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	f.logger.Info("live_connected", "Live feed client connected", requestID, map[string]interface{}{"channel": channel})

	go f.readPump(conn, cancel)
	f.writePump(ctx, conn, pubsub.Channel())

	f.logger.Info("live_disconnected", "Live feed client disconnected", requestID, map[string]interface{}{"channel": channel})
}

// readPump discards client frames and cancels the feed on close.
func (f *Feed) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) writePump(ctx context.Context, conn *websocket.Conn, messages <-chan *redis.Message) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
