package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bnema/devsession/internal/domain"
	"github.com/bnema/devsession/internal/ports"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	ViewQueryParam = "view"
	writeWait      = 5 * time.Second

	DefaultMessagesPerSecond = 10
	DefaultMessageBurst      = 20
)

// MessageHandler is the per-view receiver of inbound UI commands.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg domain.Message) error
}

// Resolver returns the handler for a view, creating it on first use. The hub
// pairs every successful call with exactly one Release for that view.
type Resolver func(ctx context.Context, viewID string) (MessageHandler, error)

type Config struct {
	Resolve Resolver
	// Release runs once per successful Resolve, after the connection that
	// resolved the handler is detached or failed to upgrade.
	Release func(viewID string, handler MessageHandler)
	// OnAttached runs once the connection is registered, so status posted
	// from it reaches the new client.
	OnAttached func(ctx context.Context, viewID string, handler MessageHandler)
	Logger     *zap.Logger
	// MessagesPerSecond and MessageBurst bound inbound messages per
	// connection; extra messages are dropped.
	MessagesPerSecond float64
	MessageBurst      int
}

// Hub serves the UI websocket and delivers status messages back to every
// connection of the view that produced them.
type Hub struct {
	resolve    Resolver
	release    func(viewID string, handler MessageHandler)
	onAttached func(ctx context.Context, viewID string, handler MessageHandler)
	logger     *zap.Logger
	upgrader   websocket.Upgrader
	msgRate    rate.Limit
	msgBurst   int

	mu    sync.Mutex
	views map[string]map[*client]struct{}
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) send(msg domain.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func NewHub(cfg Config) (*Hub, error) {
	if cfg.Resolve == nil {
		return nil, errors.New("ws: resolver is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Release == nil {
		cfg.Release = func(string, MessageHandler) {}
	}
	if cfg.OnAttached == nil {
		cfg.OnAttached = func(context.Context, string, MessageHandler) {}
	}
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = DefaultMessagesPerSecond
	}
	if cfg.MessageBurst <= 0 {
		cfg.MessageBurst = DefaultMessageBurst
	}

	return &Hub{
		resolve:    cfg.Resolve,
		release:    cfg.Release,
		onAttached: cfg.OnAttached,
		logger:     cfg.Logger,
		upgrader: websocket.Upgrader{
			// The server only listens on loopback.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		msgRate:  rate.Limit(cfg.MessagesPerSecond),
		msgBurst: cfg.MessageBurst,
		views:    map[string]map[*client]struct{}{},
	}, nil
}

// ViewSink returns a status sink that only reaches connections of viewID.
func (h *Hub) ViewSink(viewID string) ports.StatusSink {
	return viewSink{hub: h, viewID: strings.TrimSpace(viewID)}
}

// Post broadcasts to every connected view.
func (h *Hub) Post(_ context.Context, msg domain.Message) {
	for _, viewID := range h.viewIDs() {
		h.broadcast(viewID, msg)
	}
}

var _ ports.StatusSink = (*Hub)(nil)

type viewSink struct {
	hub    *Hub
	viewID string
}

func (s viewSink) Post(_ context.Context, msg domain.Message) {
	s.hub.broadcast(s.viewID, msg)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	viewID := strings.TrimSpace(r.URL.Query().Get(ViewQueryParam))
	if viewID == "" {
		http.Error(w, "missing view query parameter", http.StatusBadRequest)
		return
	}

	handler, err := h.resolve(r.Context(), viewID)
	if err != nil {
		h.logger.Warn("resolve view failed", zap.String("view", viewID), zap.Error(err))
		http.Error(w, "view unavailable", http.StatusInternalServerError)
		return
	}
	defer h.release(viewID, handler)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("view", viewID), zap.Error(err))
		return
	}

	c := &client{conn: conn}
	h.attach(viewID, c)
	defer func() {
		_ = conn.Close()
		h.detach(viewID, c)
	}()

	h.logger.Debug("view connected", zap.String("view", viewID))
	h.onAttached(r.Context(), viewID, handler)
	h.readLoop(r.Context(), viewID, conn, handler)
}

func (h *Hub) readLoop(ctx context.Context, viewID string, conn *websocket.Conn, handler MessageHandler) {
	limiter := rate.NewLimiter(h.msgRate, h.msgBurst)
	for {
		var msg domain.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read ended", zap.String("view", viewID), zap.Error(err))
			}
			return
		}

		if !limiter.Allow() {
			h.logger.Warn("dropping message over rate limit", zap.String("view", viewID), zap.String("type", string(msg.Type)))
			continue
		}

		if err := handler.HandleMessage(ctx, msg); err != nil {
			h.logger.Info("message handling failed",
				zap.String("view", viewID),
				zap.String("type", string(msg.Type)),
				zap.Error(err),
			)
		}
	}
}

func (h *Hub) attach(viewID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.views[viewID]
	if !ok {
		clients = map[*client]struct{}{}
		h.views[viewID] = clients
	}
	clients[c] = struct{}{}
}

func (h *Hub) detach(viewID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.views[viewID]
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.views, viewID)
	}
}

func (h *Hub) clients(viewID string) []*client {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*client, 0, len(h.views[viewID]))
	for c := range h.views[viewID] {
		out = append(out, c)
	}
	return out
}

func (h *Hub) viewIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.views))
	for id := range h.views {
		ids = append(ids, id)
	}
	return ids
}

func (h *Hub) broadcast(viewID string, msg domain.Message) {
	for _, c := range h.clients(viewID) {
		if err := c.send(msg); err != nil {
			h.logger.Debug("status delivery failed", zap.String("view", viewID), zap.Error(err))
		}
	}
}

// ConnectionCount reports the open connections of a view.
func (h *Hub) ConnectionCount(viewID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.views[viewID])
}
