package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/observe"
	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/protocol"
	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/ratelimit"
	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/rpc"
)

const (
	defaultReadLimit    = 64 << 10
	defaultPongWait     = 60 * time.Second
	defaultPingInterval = 30 * time.Second
	writeWait           = 5 * time.Second
)

// Verifier resolves a session credential into an identity.
type Verifier interface {
	Verify(token string) (string, error)
}

type Options struct {
	RateLimit    int
	RateWindow   time.Duration
	ReadLimit    int64
	PongWait     time.Duration
	PingInterval time.Duration
}

type clientConn struct {
	id        string
	identity  string
	remote    string
	createdAt time.Time
	window    *ratelimit.Window
	conn      *websocket.Conn
	mu        sync.Mutex
}

func (c *clientConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

type Hub struct {
	verifier   Verifier
	dispatcher *rpc.Dispatcher
	opts       Options
	now        func() time.Time

	upgrader websocket.Upgrader

	connMu sync.RWMutex
	conns  map[string]map[*clientConn]struct{}
}

func NewHub(verifier Verifier, dispatcher *rpc.Dispatcher, opts Options) *Hub {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaultPongWait
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PingInterval >= opts.PongWait {
		opts.PingInterval = opts.PongWait / 2
	}
	return &Hub{
		verifier:   verifier,
		dispatcher: dispatcher,
		opts:       opts,
		now:        time.Now,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		conns: make(map[string]map[*clientConn]struct{}),
	}
}

// HandleWS authenticates the upgrade request and serves the channel until it
// closes.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.Verify(credential(r))
	if err != nil {
		observe.IncRejectedUpgrade("unauthorized")
		log.Warn().Str("remote", r.RemoteAddr).Err(err).Msg("ws_unauthorized")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		observe.IncRejectedUpgrade("upgrade")
		log.Warn().Str("remote", r.RemoteAddr).Err(err).Msg("ws_upgrade_failed")
		return
	}

	now := h.now()
	client := &clientConn{
		id:        uuid.NewString(),
		identity:  identity,
		remote:    r.RemoteAddr,
		createdAt: now,
		window:    ratelimit.New(now, h.opts.RateLimit, h.opts.RateWindow),
		conn:      conn,
	}
	active := h.register(client)
	log.Info().Str("conn_id", client.id).Str("user_id", identity).Str("remote", client.remote).Int("active_conns", active).Msg("ws_connected")

	h.serve(client)
}

func credential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("jwt")
}

func (h *Hub) serve(client *clientConn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		active := h.unregister(client)
		_ = client.conn.Close()
		log.Info().Str("conn_id", client.id).Str("user_id", client.identity).Dur("lifetime", h.now().Sub(client.createdAt)).Int("active_conns", active).Msg("ws_disconnected")
	}()

	client.conn.SetReadLimit(h.opts.ReadLimit)
	_ = client.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})
	go h.keepAlive(ctx, client)

	for {
		mt, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Str("conn_id", client.id).Err(err).Msg("ws_read_failed")
			}
			return
		}

		if !client.window.Allow(h.now()) {
			h.rejectRateLimited(client, data)
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		start := h.now()
		out := h.dispatcher.Dispatch(ctx, client.identity, data)
		logCall(client, out, h.now().Sub(start))
		if !out.Reply {
			continue
		}
		if err := client.WriteJSON(out.Response); err != nil {
			log.Warn().Str("conn_id", client.id).Err(err).Msg("ws_write_failed")
			return
		}
	}
}

func (h *Hub) rejectRateLimited(client *clientConn, frame []byte) {
	observe.IncRateLimited()
	log.Warn().Str("conn_id", client.id).Str("user_id", client.identity).Str("remote", client.remote).Int("limit", client.window.Limit).Msg("ws_rate_limited")
	resp := protocol.Failure(rpc.PeekID(frame), protocol.NewError(protocol.CodeTooManyRequests, "Too many requests"))
	if err := client.WriteJSON(resp); err != nil {
		return
	}
	client.mu.Lock()
	_ = client.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many requests"),
		time.Now().Add(writeWait))
	client.mu.Unlock()
}

func (h *Hub) keepAlive(ctx context.Context, client *clientConn) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func logCall(client *clientConn, out rpc.Outcome, took time.Duration) {
	var event *zerolog.Event
	if out.Response.Error != nil {
		event = log.Warn().Int("error_code", out.Response.Error.Code).Str("error", out.Response.Error.Message)
	} else {
		event = log.Info()
	}
	if out.Response.ID != nil {
		event = event.Int64("id", *out.Response.ID)
	}
	event.
		Str("conn_id", client.id).
		Str("user_id", client.identity).
		Str("method", out.Method).
		Dur("response_time", took).
		Bool("replied", out.Reply).
		Str("remote", client.remote).
		Msg("rpc_call")
}

// Push sends a notification to every open channel of identity and returns
// how many channels received it.
func (h *Hub) Push(identity, method string, params any) int {
	h.connMu.RLock()
	targets := make([]*clientConn, 0, len(h.conns[identity]))
	for c := range h.conns[identity] {
		targets = append(targets, c)
	}
	h.connMu.RUnlock()

	msg := protocol.Notification{JSONRPC: protocol.Version, Method: method, Params: params}
	sent := 0
	for _, c := range targets {
		if err := c.WriteJSON(msg); err != nil {
			log.Warn().Str("conn_id", c.id).Err(err).Msg("ws_push_failed")
			continue
		}
		sent++
		observe.IncPushed()
	}
	return sent
}

// Shutdown asks every open channel to close.
func (h *Hub) Shutdown() {
	h.connMu.RLock()
	var all []*clientConn
	for _, set := range h.conns {
		for c := range set {
			all = append(all, c)
		}
	}
	h.connMu.RUnlock()

	for _, c := range all {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		c.mu.Unlock()
		_ = c.conn.Close()
	}
}

func (h *Hub) ActiveConnections() int {
	h.connMu.RLock()
	defer h.connMu.RUnlock()
	n := 0
	for _, set := range h.conns {
		n += len(set)
	}
	return n
}

func (h *Hub) register(c *clientConn) int {
	h.connMu.Lock()
	set, ok := h.conns[c.identity]
	if !ok {
		set = make(map[*clientConn]struct{})
		h.conns[c.identity] = set
	}
	set[c] = struct{}{}
	h.connMu.Unlock()
	observe.AddConnections(1)
	return h.ActiveConnections()
}

func (h *Hub) unregister(c *clientConn) int {
	h.connMu.Lock()
	if set, ok := h.conns[c.identity]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, c.identity)
		}
	}
	h.connMu.Unlock()
	observe.AddConnections(-1)
	return h.ActiveConnections()
}
