package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

type Config struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	SendBuffer     int
	AllowedOrigins []string
}

// RingCue is the payload of a ring notification. The UI owns the speaker.
type RingCue struct {
	Action string          `json:"action"` // start | stop
	Kind   domain.RingKind `json:"kind,omitempty"`
}

// Hub pushes notifications to every connected UI websocket. A client that
// cannot keep up with its send buffer is disconnected.
type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	logger *zap.SugaredLogger
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

var (
	_ ports.Notifier = (*Hub)(nil)
	_ ports.RingTone = (*Hub)(nil)
)

func NewHub(cfg Config, logger *zap.SugaredLogger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	h := &Hub{
		cfg:     cfg,
		now:     time.Now,
		clients: make(map[*client]struct{}),
		logger:  logger,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// HandleWebSocket upgrades the request and streams notifications until the peer goes away.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "error", err, "origin", r.Header.Get("Origin"))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.cfg.SendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Infow("ui client connected", "remote", r.RemoteAddr, "clients", count)

	go h.writePump(c)
	h.readPump(c)
}

// readPump only services control frames; clients never send commands here.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debugw("ui client read error", "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	pingTicker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		pingTicker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debugw("ui client write failed", "error", err)
				h.remove(c)
				return
			}

		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok {
		c.once.Do(func() { close(c.send) })
	}
}

func (h *Hub) Notify(n domain.Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = h.now().UTC()
	}
	data, err := json.Marshal(n)
	if err != nil {
		h.logger.Errorw("failed to encode notification", "type", n.Type, "error", err)
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warnw("dropping slow ui client", "remote", c.conn.RemoteAddr().String())
		h.remove(c)
	}
}

func (h *Hub) StartRing(kind domain.RingKind) {
	h.Notify(domain.Notification{Type: domain.NotifyRing, Data: RingCue{Action: "start", Kind: kind}})
}

func (h *Hub) StopRing() {
	h.Notify(domain.Notification{Type: domain.NotifyRing, Data: RingCue{Action: "stop"}})
}

// Clients returns the number of connected UI clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.once.Do(func() { close(c.send) })
	}
}
