package janus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"

	"github.com/mossy-p/videoroom-relay/internal/logger"
)

const (
	subprotocol = "janus-protocol"
	writeWait   = 10 * time.Second
)

// Config controls how the link to the gateway is opened and used.
type Config struct {
	URL       string
	APISecret string
	// MaxRetries is the number of extra dial attempts after the first one fails.
	MaxRetries int
	RetryDelay time.Duration
	// RequestTimeout bounds every request whose context has no deadline.
	RequestTimeout time.Duration
	// KeepAlive is the interval between session keepalives. Zero disables them.
	KeepAlive time.Duration
	Dialer    *websocket.Dialer
}

// Conn is the WebSocket link to the gateway. It is safe for concurrent use.
type Conn struct {
	cfg    Config
	dialer *websocket.Dialer

	writeMu sync.Mutex

	mu      sync.Mutex
	ws      *websocket.Conn
	pending map[string]*pendingTx
	handles map[uint64]*handle
	closing bool
	done    chan struct{}
}

type pendingTx struct {
	ch chan *message
	// ackFinal is set for requests whose only reply is an ack (trickle, keepalive).
	ackFinal bool
}

type message struct {
	Janus       string `json:"janus"`
	Transaction string `json:"transaction,omitempty"`
	SessionID   uint64 `json:"session_id,omitempty"`
	Sender      uint64 `json:"sender,omitempty"`
	Data        *struct {
		ID uint64 `json:"id"`
	} `json:"data,omitempty"`
	Error *struct {
		Code   int    `json:"code"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
	PluginData *struct {
		Plugin string          `json:"plugin"`
		Data   json.RawMessage `json:"data"`
	} `json:"plugindata,omitempty"`
	Jsep      *webrtc.SessionDescription `json:"jsep,omitempty"`
	Candidate *Candidate                 `json:"candidate,omitempty"`
	Reason    string                     `json:"reason,omitempty"`
}

// Open dials the gateway, retrying up to cfg.MaxRetries times. When every
// attempt fails the returned error wraps ErrUnreachable.
func Open(ctx context.Context, cfg Config) (*Conn, error) {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	d := *dialer
	d.Subprotocols = []string{subprotocol}

	c := &Conn{
		cfg:     cfg,
		dialer:  &d,
		pending: make(map[string]*pendingTx),
		handles: make(map[uint64]*handle),
		done:    make(chan struct{}),
	}
	if err := c.dial(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Conn) dial(ctx context.Context) error {
	attempts := c.cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		ws, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
		if err == nil {
			c.mu.Lock()
			c.ws = ws
			c.mu.Unlock()
			go c.readLoop(ws)
			logger.Infof("Connected to Janus at %s", c.cfg.URL)
			return nil
		}
		lastErr = err
		logger.Warnf("Janus dial %s failed (attempt %d/%d): %v", c.cfg.URL, i, attempts, err)

		if i < attempts {
			select {
			case <-time.After(c.cfg.RetryDelay):
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "janus dial")
			case <-c.done:
				return ErrClosed
			}
		}
	}
	return errors.Wrapf(ErrUnreachable, "%s after %d attempts: %v", c.cfg.URL, attempts, lastErr)
}

// Close shuts the link down. Pending requests fail with ErrClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	close(c.done)
	ws := c.ws
	c.mu.Unlock()

	if ws == nil {
		return nil
	}
	return ws.Close()
}

// Create opens a new gateway session.
func (c *Conn) Create(ctx context.Context) (Session, error) {
	m, err := c.request(ctx, map[string]any{"janus": "create"}, false)
	if err != nil {
		return nil, errors.Wrap(err, "create session")
	}
	if m.Data == nil || m.Data.ID == 0 {
		return nil, errors.New("create session: missing session id")
	}

	s := &session{
		conn: c,
		id:   m.Data.ID,
		stop: make(chan struct{}),
	}
	if c.cfg.KeepAlive > 0 {
		go s.keepAlive(c.cfg.KeepAlive)
	}
	return s, nil
}

func (c *Conn) request(ctx context.Context, req map[string]any, ackFinal bool) (*message, error) {
	if _, ok := ctx.Deadline(); !ok && c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	tx := uuid.NewString()
	req["transaction"] = tx
	if c.cfg.APISecret != "" {
		req["apisecret"] = c.cfg.APISecret
	}

	p := &pendingTx{ch: make(chan *message, 1), ackFinal: ackFinal}
	c.mu.Lock()
	ws := c.ws
	if ws == nil || c.closing {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[tx] = p
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, tx)
		c.mu.Unlock()
	}()

	if err := c.write(ws, req); err != nil {
		return nil, errors.Wrapf(err, "janus %v", req["janus"])
	}

	select {
	case m := <-p.ch:
		if m == nil {
			return nil, ErrClosed
		}
		if m.Janus == "error" && m.Error != nil {
			return nil, &Error{Code: m.Error.Code, Reason: m.Error.Reason}
		}
		return m, nil
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "janus %v", req["janus"])
	case <-c.done:
		return nil, ErrClosed
	}
}

func (c *Conn) write(ws *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(v)
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.linkLost(ws, err)
			return
		}

		var m message
		if err := json.Unmarshal(data, &m); err != nil {
			logger.Warnf("Failed to parse Janus message: %v", err)
			continue
		}
		c.dispatch(&m)
	}
}

func (c *Conn) dispatch(m *message) {
	if m.Transaction != "" {
		c.mu.Lock()
		p, ok := c.pending[m.Transaction]
		final := ok && (m.Janus != "ack" || p.ackFinal)
		if final {
			delete(c.pending, m.Transaction)
		}
		c.mu.Unlock()

		if ok {
			if final {
				p.ch <- m
			}
			return
		}
	}

	switch m.Janus {
	case "event", "trickle", "webrtcup", "hangup":
		h := c.handle(m.Sender)
		if h == nil {
			logger.Debugf("Janus %s for unknown handle %d", m.Janus, m.Sender)
			return
		}
		h.deliver(m)
	case "detached":
		c.removeHandle(m.Sender)
	case "timeout":
		logger.Warnf("Janus session %d timed out", m.SessionID)
	case "ack", "media", "slowlink":
	default:
		logger.Debugf("Unhandled Janus message %q", m.Janus)
	}
}

func (c *Conn) linkLost(ws *websocket.Conn, err error) {
	c.mu.Lock()
	if c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	pending := c.pending
	c.pending = make(map[string]*pendingTx)
	handles := c.handles
	c.handles = make(map[uint64]*handle)
	closing := c.closing
	c.mu.Unlock()

	for _, p := range pending {
		p.ch <- nil
	}
	if closing {
		return
	}

	logger.Warnf("Janus link lost: %v", err)
	for _, h := range handles {
		if sink := h.currentSink(); sink != nil {
			sink.OnHangup("gateway link lost")
		}
	}

	go func() {
		if err := c.dial(context.Background()); err != nil {
			logger.Errorf("Janus reconnect failed: %v", err)
		}
	}()
}

func (c *Conn) addHandle(h *handle) {
	c.mu.Lock()
	c.handles[h.id] = h
	c.mu.Unlock()
}

func (c *Conn) handle(id uint64) *handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles[id]
}

func (c *Conn) removeHandle(id uint64) {
	c.mu.Lock()
	delete(c.handles, id)
	c.mu.Unlock()
}

func (c *Conn) removeSessionHandles(sessionID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, h := range c.handles {
		if h.session == sessionID {
			delete(c.handles, id)
		}
	}
}
