package janus

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"

	"github.com/mossy-p/videoroom-relay/internal/logger"
)

type session struct {
	conn     *Conn
	id       uint64
	stop     chan struct{}
	stopOnce sync.Once
}

func (s *session) ID() uint64 { return s.id }

func (s *session) Attach(ctx context.Context, plugin string) (Handle, error) {
	m, err := s.conn.request(ctx, map[string]any{
		"janus":      "attach",
		"session_id": s.id,
		"plugin":     plugin,
	}, false)
	if err != nil {
		return nil, errors.Wrapf(err, "attach %s", plugin)
	}
	if m.Data == nil || m.Data.ID == 0 {
		return nil, errors.Errorf("attach %s: missing handle id", plugin)
	}

	h := &handle{
		conn:    s.conn,
		session: s.id,
		id:      m.Data.ID,
		plugin:  plugin,
	}
	s.conn.addHandle(h)
	return h, nil
}

func (s *session) Destroy(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	defer s.conn.removeSessionHandles(s.id)

	_, err := s.conn.request(ctx, map[string]any{
		"janus":      "destroy",
		"session_id": s.id,
	}, false)
	return errors.Wrapf(err, "destroy session %d", s.id)
}

func (s *session) keepAlive(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, err := s.conn.request(context.Background(), map[string]any{
				"janus":      "keepalive",
				"session_id": s.id,
			}, true)
			if err != nil {
				logger.Warnf("Keepalive for session %d failed: %v", s.id, err)
				if errors.Is(err, ErrClosed) || IsCode(err, CodeSessionNotFound) {
					return
				}
			}
		case <-s.stop:
			return
		case <-s.conn.done:
			return
		}
	}
}

type handle struct {
	conn    *Conn
	session uint64
	id      uint64
	plugin  string

	mu   sync.Mutex
	sink EventSink
}

func (h *handle) ID() uint64 { return h.id }

func (h *handle) Bind(sink EventSink) {
	h.mu.Lock()
	h.sink = sink
	h.mu.Unlock()
}

func (h *handle) currentSink() EventSink {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sink
}

func (h *handle) Message(ctx context.Context, body any, jsep *webrtc.SessionDescription) (*Response, error) {
	req := map[string]any{
		"janus":      "message",
		"session_id": h.session,
		"handle_id":  h.id,
		"body":       body,
	}
	if jsep != nil {
		req["jsep"] = jsep
	}

	m, err := h.conn.request(ctx, req, false)
	if err != nil {
		return nil, errors.Wrapf(err, "%s message", h.plugin)
	}

	resp := &Response{Jsep: m.Jsep}
	if m.PluginData != nil {
		resp.Plugin = m.PluginData.Plugin
		resp.Data = m.PluginData.Data

		var pe pluginError
		if len(resp.Data) > 0 {
			if err := resp.Decode(&pe); err != nil {
				return nil, errors.Wrapf(err, "%s message: decode plugin data", h.plugin)
			}
		}
		if err := pe.err(); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (h *handle) Trickle(ctx context.Context, c Candidate) error {
	_, err := h.conn.request(ctx, map[string]any{
		"janus":      "trickle",
		"session_id": h.session,
		"handle_id":  h.id,
		"candidate":  c,
	}, true)
	return errors.Wrap(err, "trickle")
}

func (h *handle) Detach(ctx context.Context) error {
	defer h.conn.removeHandle(h.id)

	_, err := h.conn.request(ctx, map[string]any{
		"janus":      "detach",
		"session_id": h.session,
		"handle_id":  h.id,
	}, false)
	return errors.Wrapf(err, "detach handle %d", h.id)
}

func (h *handle) deliver(m *message) {
	sink := h.currentSink()
	if sink == nil {
		logger.Debugf("Dropping Janus %s for unbound handle %d", m.Janus, h.id)
		return
	}

	switch m.Janus {
	case "event":
		var data []byte
		if m.PluginData != nil {
			data = m.PluginData.Data
		}
		sink.OnEvent(data, m.Jsep)
	case "trickle":
		if m.Candidate != nil {
			sink.OnTrickle(*m.Candidate)
		}
	case "webrtcup":
		sink.OnMediaUp()
	case "hangup":
		sink.OnHangup(m.Reason)
	}
}
