package livestream

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/videoroom-relay/internal/janus"
	"github.com/mossy-p/videoroom-relay/internal/logger"
	"github.com/mossy-p/videoroom-relay/internal/models"
	"github.com/mossy-p/videoroom-relay/internal/session"
)

// Sender delivers an outbound message to one client. Send must not block.
type Sender interface {
	Send(v any) error
}

// Viewer is one client connection on the livestream namespace. The gateway
// session and both handles are created on first use and only touched by the
// queue goroutine.
type Viewer struct {
	ID string

	mounts *Mounts
	gw     janus.Gateway
	out    Sender
	queue  *session.Queue

	released  chan struct{}
	closeOnce sync.Once

	sess  janus.Session
	admin janus.Handle
	watch janus.Handle
}

// Accept starts the message queue of a new livestream client.
func (m *Mounts) Accept(ctx context.Context, out Sender) *Viewer {
	v := &Viewer{
		ID:       uuid.NewString(),
		mounts:   m,
		gw:       m.gw,
		out:      out,
		released: make(chan struct{}),
	}
	v.queue = session.NewQueue(ctx, 32, v.reportError)
	return v
}

// HandleMessage queues one inbound frame. Frames that do not parse are dropped.
func (v *Viewer) HandleMessage(raw []byte) {
	var msg models.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Debugf("Viewer %s: dropping unparsable frame: %v", v.ID, err)
		return
	}
	v.Dispatch(msg)
}

// Dispatch queues msg behind every message received before it.
func (v *Viewer) Dispatch(msg models.ClientMessage) {
	v.queue.Push(func(ctx context.Context) error {
		return v.handle(ctx, &msg)
	})
}

func (v *Viewer) handle(ctx context.Context, msg *models.ClientMessage) error {
	switch msg.Type {
	case models.TypeStartStream:
		return v.startStream(ctx, msg.ID, msg.Name)
	case models.TypeDestroyStream:
		return v.destroyStream(ctx, msg.ID)
	case models.TypeWatch:
		return v.startWatch(ctx, msg.ID)
	case models.TypeStart:
		return v.start(ctx, msg.Jsep)
	case models.TypeTrickle:
		v.trickle(ctx, msg.TrickleCandidate())
		return nil
	case models.TypeUnwatch:
		v.unwatch(ctx)
		return nil
	default:
		logger.Debugf("Viewer %s sent unknown message type %q", v.ID, msg.Type)
		return nil
	}
}

func (v *Viewer) session(ctx context.Context) (janus.Session, error) {
	if v.sess != nil {
		return v.sess, nil
	}
	s, err := v.gw.Create(ctx)
	if err != nil {
		return nil, err
	}
	v.sess = s
	return s, nil
}

func (v *Viewer) adminHandle(ctx context.Context) (janus.Handle, error) {
	if v.admin != nil {
		return v.admin, nil
	}
	s, err := v.session(ctx)
	if err != nil {
		return nil, err
	}
	h, err := s.Attach(ctx, janus.PluginStreaming)
	if err != nil {
		return nil, err
	}
	v.admin = h
	return h, nil
}

func (v *Viewer) startStream(ctx context.Context, id uint64, name string) error {
	h, err := v.adminHandle(ctx)
	if err != nil {
		return err
	}
	// Socket clients are anonymous, so the mount has no creator.
	rtp, err := v.mounts.Create(ctx, h, id, name, "")
	if err != nil {
		return err
	}
	v.send(models.MountCreated(id, rtp))
	return nil
}

func (v *Viewer) destroyStream(ctx context.Context, id uint64) error {
	h, err := v.adminHandle(ctx)
	if err != nil {
		return err
	}
	if err := v.mounts.Destroy(ctx, h, id); err != nil {
		return err
	}
	v.send(models.MountDestroyed(id))
	return nil
}

func (v *Viewer) startWatch(ctx context.Context, id uint64) error {
	if v.watch != nil {
		old := v.watch
		v.watch = nil
		release(ctx, "watch handle", old.Detach)
	}

	s, err := v.session(ctx)
	if err != nil {
		return err
	}
	h, err := s.Attach(ctx, janus.PluginStreaming)
	if err != nil {
		return err
	}
	v.watch = h
	h.Bind(&watchEvents{v: v})

	resp, err := h.Message(ctx, map[string]any{"request": "watch", "id": id}, nil)
	if err != nil {
		return err
	}
	if resp.Jsep == nil {
		return ErrNoOfferFromGateway
	}
	v.send(models.Jsep(models.TypeJsep, *resp.Jsep))
	return nil
}

func (v *Viewer) start(ctx context.Context, jsep *webrtc.SessionDescription) error {
	if v.watch == nil {
		logger.Debugf("Viewer %s sent start before watch", v.ID)
		return nil
	}
	_, err := v.watch.Message(ctx, map[string]any{"request": "start"}, jsep)
	return err
}

func (v *Viewer) trickle(ctx context.Context, c janus.Candidate) {
	if v.watch == nil {
		return
	}
	if err := v.watch.Trickle(ctx, c); err != nil {
		logger.Debugf("Viewer %s trickle: %v", v.ID, err)
	}
}

func (v *Viewer) unwatch(ctx context.Context) {
	if v.watch == nil {
		return
	}
	if _, err := v.watch.Message(ctx, map[string]any{"request": "stop"}, nil); err != nil {
		logger.Debugf("Viewer %s stop: %v", v.ID, err)
	}
}

func (v *Viewer) reportError(err error) {
	logger.Warnf("Viewer %s: %v", v.ID, err)
	v.send(models.Error(err.Error()))
}

// Close stops the queue and releases the handles and then the session in the
// background. It is safe to call more than once.
func (v *Viewer) Close() {
	v.closeOnce.Do(func() {
		v.queue.Stop()
		go func() {
			<-v.queue.Done()
			v.teardown(context.Background())
			close(v.released)
		}()
	})
}

// Released is closed once teardown after Close has been attempted.
func (v *Viewer) Released() <-chan struct{} { return v.released }

func (v *Viewer) teardown(ctx context.Context) {
	watch, admin, sess := v.watch, v.admin, v.sess
	v.watch, v.admin, v.sess = nil, nil, nil

	if watch != nil {
		release(ctx, "watch handle", watch.Detach)
	}
	if admin != nil {
		release(ctx, "admin handle", admin.Detach)
	}
	if sess != nil {
		release(ctx, "session", sess.Destroy)
	}
}

func (v *Viewer) send(msg any) {
	if err := v.out.Send(msg); err != nil {
		logger.Debugf("Send to viewer %s dropped: %v", v.ID, err)
	}
}

// watchEvents relays streaming plugin events on the watch handle.
type watchEvents struct {
	v *Viewer
}

func (e *watchEvents) OnEvent(_ json.RawMessage, jsep *webrtc.SessionDescription) {
	if jsep != nil {
		e.v.send(models.Jsep(models.TypeJsep, *jsep))
	}
}

func (e *watchEvents) OnTrickle(c janus.Candidate) {
	e.v.send(models.Trickle("", c))
}

func (e *watchEvents) OnMediaUp() {
	e.v.send(models.WebRTCUp(""))
}

func (e *watchEvents) OnHangup(reason string) {
	logger.Debugf("Viewer %s watch hangup: %s", e.v.ID, reason)
}
