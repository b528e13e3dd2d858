package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"example.com/carebase/services/eventstore/internal/eventstore"
)

const writeDeadline = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Producer auth happens upstream of this service
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SubscribeHandler upgrades connections and registers them as live
// subscribers with the publisher's hub.
type SubscribeHandler struct {
	service     EventService
	globalTopic string
}

// NewSubscribeHandler creates a new subscribe handler
func NewSubscribeHandler(service EventService, globalTopic string) *SubscribeHandler {
	return &SubscribeHandler{service: service, globalTopic: globalTopic}
}

// RegisterRoutes registers the websocket route
func (h *SubscribeHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/ws", h.subscribe)
}

// subscribe upgrades the connection; topic defaults to the global topic and
// may name a single event type instead.
func (h *SubscribeHandler) subscribe(c *gin.Context) {
	topic := c.Query("topic")
	if topic == "" {
		topic = h.globalTopic
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	sub := &wsSubscriber{
		id:    uuid.New().String(),
		topic: topic,
		conn:  conn,
	}
	h.service.AddSubscriber(sub)

	// The read loop only watches for disconnects; subscribers are push-only.
	go func() {
		defer h.service.RemoveSubscriber(sub.id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// wsSubscriber adapts a websocket connection to the publisher's Subscriber
// interface. Writes are serialized and deadline-bounded so one stalled
// connection fails fast instead of blocking the broadcast.
type wsSubscriber struct {
	id    string
	topic string
	conn  *websocket.Conn
	mu    sync.Mutex
}

func (s *wsSubscriber) ID() string    { return s.id }
func (s *wsSubscriber) Topic() string { return s.topic }

func (s *wsSubscriber) Send(event eventstore.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return err
	}
	return s.conn.WriteJSON(event)
}

func (s *wsSubscriber) Close() error {
	return s.conn.Close()
}
