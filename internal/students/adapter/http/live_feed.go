package http

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"students-registry/internal/shared/eventbus"
	"students-registry/internal/shared/logger"
	"students-registry/internal/shared/metrics"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	clientBuffer = 32
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// FeedMessage is one frame sent to live-feed clients.
type FeedMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// LiveFeed fans change events out to connected WebSocket clients. A client whose buffer is
// full misses messages instead of blocking the publisher.
type LiveFeed struct {
	mu      sync.RWMutex
	clients map[string]chan []byte
	closed  bool

	metrics *metrics.Metrics
	log     logger.Logger
}

// NewLiveFeed creates an empty hub. m may be nil.
func NewLiveFeed(m *metrics.Metrics, log logger.Logger) *LiveFeed {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &LiveFeed{
		clients: make(map[string]chan []byte),
		metrics: m,
		log:     log.WithComponent("live_feed"),
	}
}

// RegisterRoutes mounts the WebSocket endpoint at /ws/students.
func (f *LiveFeed) RegisterRoutes(router fiber.Router) {
	wsGroup := router.Group("/ws")

	wsGroup.Use("/students", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	wsGroup.Get("/students", websocket.New(f.serve))
}

// Handle is an eventbus.Handler broadcasting event to every client.
func (f *LiveFeed) Handle(_ context.Context, event eventbus.Event) error {
	frame, err := json.Marshal(FeedMessage{
		Type:      event.Type(),
		Data:      event.Data(),
		Timestamp: event.Timestamp(),
	})
	if err != nil {
		return err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for id, ch := range f.clients {
		select {
		case ch <- frame:
		default:
			f.log.Warnf("Live-feed client %s is too slow, dropping %s", id, event.Type())
		}
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (f *LiveFeed) ClientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// Close disconnects every client. Later subscriptions are refused.
func (f *LiveFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.clients {
		close(ch)
		delete(f.clients, id)
	}
	f.closed = true
	f.setGauge()
}

// subscribe adds a client and returns its id and frame channel. ok is false after Close.
func (f *LiveFeed) subscribe() (id string, frames <-chan []byte, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", nil, false
	}
	id = uuid.NewString()
	ch := make(chan []byte, clientBuffer)
	f.clients[id] = ch
	f.setGauge()
	return id, ch, true
}

func (f *LiveFeed) unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.clients[id]; ok {
		close(ch)
		delete(f.clients, id)
		f.setGauge()
	}
}

// setGauge is called with f.mu held.
func (f *LiveFeed) setGauge() {
	if f.metrics != nil {
		f.metrics.LiveFeedClients.Set(float64(len(f.clients)))
	}
}

func (f *LiveFeed) serve(conn *websocket.Conn) {
	id, frames, ok := f.subscribe()
	if !ok {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		return
	}
	defer f.unsubscribe(id)

	f.log.Infof("Live-feed client %s connected", id)
	defer f.log.Infof("Live-feed client %s disconnected", id)

	// The read loop only detects disconnects and answers pongs.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					f.log.Warnf("Live-feed client %s read error: %v", id, err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case frame, open := <-frames:
			if !open {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
