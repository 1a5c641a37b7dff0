package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/wavetrend/pkg/config"
	"github.com/nicktill/wavetrend/pkg/pipeline"
	"github.com/nicktill/wavetrend/pkg/segment"
	"github.com/nicktill/wavetrend/pkg/trend"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// No Origin header means a non-browser client
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// Event types pushed to WebSocket clients
const (
	EventState    = "state"
	EventProgress = "progress"
	EventPoints   = "points"
	EventReady    = "ready"
	EventError    = "error"
)

// Event is one pipeline notification
type Event struct {
	Type      string          `json:"type"`
	SourceID  string          `json:"source_id"`
	Timestamp int64           `json:"timestamp"`
	State     string          `json:"state,omitempty"`
	Progress  float64         `json:"progress,omitempty"`
	Points    []trend.Point   `json:"points,omitempty"`
	Result    *segment.Result `json:"result,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Hub fans pipeline events out to WebSocket clients
type Hub struct {
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
	log        logrus.FieldLogger

	mu sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn, config.WSChannelBuffer),
		unregister: make(chan *websocket.Conn, config.WSChannelBuffer),
		broadcast:  make(chan []byte, config.WSBroadcastBuffer),
		log:        log.WithField("component", "hub"),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
			}
			h.clients = make(map[*websocket.Conn]bool)
			h.mu.Unlock()
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.log.WithField("clients", count).Debug("websocket client connected")
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.log.WithField("clients", count).Debug("websocket client disconnected")
		case message := <-h.broadcast:
			h.mu.RLock()
			var failed []*websocket.Conn
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					h.log.WithError(err).Debug("websocket write failed")
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()

			// unregister outside the read lock
			for _, conn := range failed {
				select {
				case h.unregister <- conn:
				default:
					go func() { h.unregister <- conn }()
				}
			}
		}
	}
}

// Broadcast queues an event for every client. Events are dropped when the
// queue is full; clients resync from GET /v1/trend.
func (h *Hub) Broadcast(ev Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	message, err := json.Marshal(ev)
	if err != nil {
		h.log.WithError(err).Error("failed to encode event")
		return
	}

	select {
	case h.broadcast <- message:
	default:
		h.log.WithField("type", ev.Type).Warn("broadcast channel full, dropping event")
	}
}

// HasClients returns true if there are any connected WebSocket clients
func (h *Hub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// Callbacks adapts pipeline events to hub broadcasts. Point batches are only
// encoded when someone is listening.
func (h *Hub) Callbacks() pipeline.Callbacks {
	return pipeline.Callbacks{
		OnStateChange: func(sourceID string, state pipeline.State) {
			h.Broadcast(Event{Type: EventState, SourceID: sourceID, State: state.String()})
		},
		OnProgress: func(sourceID string, percent float64) {
			h.Broadcast(Event{Type: EventProgress, SourceID: sourceID, Progress: percent})
		},
		OnPointsAppended: func(sourceID string, points []trend.Point) {
			if !h.HasClients() {
				return
			}
			h.Broadcast(Event{Type: EventPoints, SourceID: sourceID, Points: points})
		},
		OnSeriesReady: func(sourceID string, points []trend.Point, result segment.Result) {
			h.Broadcast(Event{Type: EventReady, SourceID: sourceID, Result: &result})
		},
		OnError: func(sourceID string, kind pipeline.ErrorKind, err error) {
			h.Broadcast(Event{Type: EventError, SourceID: sourceID, Kind: string(kind), Error: err.Error()})
		},
	}
}

// HandleWebSocket upgrades the request and streams events until the client
// goes away
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	h.register <- conn

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		ticker := time.NewTicker(config.WSPingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	defer func() {
		cancel()
		select {
		case h.unregister <- conn:
		default:
			conn.Close()
		}
	}()

	conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	// control frames only
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.WithError(err).Debug("websocket closed")
			}
			return
		}
	}
}
