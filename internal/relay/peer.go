package relay

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/mossy-p/videoroom-relay/internal/janus"
	"github.com/mossy-p/videoroom-relay/internal/logger"
	"github.com/mossy-p/videoroom-relay/internal/models"
	"github.com/mossy-p/videoroom-relay/internal/session"
)

// Peer is one client connection on the room namespace. Its gateway state is
// only touched by the queue goroutine, so handlers and retry continuations
// never interleave.
type Peer struct {
	ID string

	relay *Relay
	out   Sender
	queue *session.Queue

	released  chan struct{}
	closeOnce sync.Once

	// Owned by the queue goroutine.
	name          string
	joined        bool
	sess          janus.Session
	pub           janus.Handle
	sub           janus.Handle
	participantID uint64
	subGen        uint64

	publishing atomic.Bool
}

// Publishing reports whether the gateway has confirmed media from this peer.
func (p *Peer) Publishing() bool { return p.publishing.Load() }

// HandleMessage parses one inbound frame and queues it. Frames that are not
// valid JSON are answered with an error message.
func (p *Peer) HandleMessage(raw []byte) {
	var msg models.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Debugf("Peer %s sent invalid message: %v", p.ID, err)
		p.send(models.Error("invalid message: " + err.Error()))
		return
	}
	p.Dispatch(msg)
}

// Dispatch queues msg behind every message received before it.
func (p *Peer) Dispatch(msg models.ClientMessage) {
	p.enqueue(func(ctx context.Context) error {
		return p.handle(ctx, &msg)
	})
}

func (p *Peer) handle(ctx context.Context, msg *models.ClientMessage) error {
	switch msg.Type {
	case models.TypeJoin:
		return p.join(ctx, msg.Name)
	case models.TypePublishOffer:
		return p.publishOffer(ctx, msg.Jsep)
	case models.TypeList:
		return p.listPublishers(ctx)
	case models.TypeSubscribe:
		return p.subscribe(ctx, msg.Feed)
	case models.TypeStartSubscribe:
		return p.startSubscriber(ctx, msg.Jsep)
	case models.TypeTrickle:
		return p.trickle(ctx, msg.Role, msg.TrickleCandidate())
	case models.TypeLeave:
		p.leave(ctx)
		return nil
	default:
		logger.Debugf("Peer %s sent unknown message type %q", p.ID, msg.Type)
		return nil
	}
}

func (p *Peer) enqueue(t session.Task) bool {
	return p.queue.Push(t)
}

func (p *Peer) reportError(err error) {
	logger.Warnf("Peer %s: %v", p.ID, err)
	p.send(models.Error(err.Error()))
}

// Close cancels in-flight gateway requests and releases the peer's session
// and handles in the background. It is safe to call more than once.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		p.queue.Stop()
		go func() {
			<-p.queue.Done()
			p.onLeave(context.Background())
			close(p.released)
		}()
	})
}

// Released is closed once teardown after Close has been attempted.
func (p *Peer) Released() <-chan struct{} { return p.released }

func (p *Peer) send(v any) {
	if err := p.out.Send(v); err != nil {
		logger.Debugf("Send to peer %s dropped: %v", p.ID, err)
	}
}
