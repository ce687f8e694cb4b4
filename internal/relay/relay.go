// Package relay translates client intents on the room namespace into
// videoroom plugin requests and relays gateway events back to the client.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mossy-p/videoroom-relay/internal/janus"
	"github.com/mossy-p/videoroom-relay/internal/session"
)

var (
	// ErrAlreadyJoined rejects a second join on a connection that has joined.
	ErrAlreadyJoined = errors.New("already joined")
	// ErrInvalidName rejects a join without a display name.
	ErrInvalidName = errors.New("display name is required")
	// ErrInvalidJsep rejects a publish offer or subscriber answer of the wrong type.
	ErrInvalidJsep = errors.New("unexpected session description")
	// ErrGaveUp is logged when the subscribe retry budget runs out.
	ErrGaveUp = errors.New("subscribe retry budget exhausted")

	errFeedNotFound = errors.New("feed not found")
	errFeedNotReady = errors.New("feed has no codecs yet")
	errNoOffer      = errors.New("no offer after subscriber join")
)

// Sender delivers an outbound message to one client. Send must not block.
type Sender interface {
	Send(v any) error
}

// Presence mirrors joined display names somewhere observable.
type Presence interface {
	AddPeer(ctx context.Context, name string) error
	RemovePeer(ctx context.Context, name string) error
}

// Scheduler runs f once after d.
type Scheduler func(d time.Duration, f func())

// RetryPolicy is a flat-rate retry budget: at most MaxAttempts tries, Delay apart.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy gives a feed about two seconds to appear with codecs.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 5, Delay: 500 * time.Millisecond}

// Config tunes a Relay. Zero fields take defaults in New.
type Config struct {
	Room  uint64
	Retry RetryPolicy
	// ReleaseTimeout bounds every best-effort teardown request.
	ReleaseTimeout time.Duration
	QueueSize      int
}

// Relay holds the process-wide state shared by every peer.
type Relay struct {
	gw       janus.Gateway
	names    *session.Registry[*Peer]
	presence Presence
	schedule Scheduler
	cfg      Config
}

// Option customizes a Relay built by New.
type Option func(*Relay)

func WithPresence(p Presence) Option { return func(r *Relay) { r.presence = p } }

func WithScheduler(s Scheduler) Option { return func(r *Relay) { r.schedule = s } }

// New returns a Relay that joins peers to cfg.Room on gw.
func New(gw janus.Gateway, cfg Config, opts ...Option) *Relay {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if cfg.Retry.Delay <= 0 {
		cfg.Retry.Delay = DefaultRetryPolicy.Delay
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}

	r := &Relay{
		gw:    gw,
		names: session.NewRegistry[*Peer](),
		cfg:   cfg,
		schedule: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Accept registers a new client connection and starts its message queue.
func (r *Relay) Accept(ctx context.Context, out Sender) *Peer {
	p := &Peer{
		ID:       uuid.NewString(),
		relay:    r,
		out:      out,
		released: make(chan struct{}),
	}
	p.queue = session.NewQueue(ctx, r.cfg.QueueSize, p.reportError)
	return p
}

// Lookup returns the peer bound to a display name.
func (r *Relay) Lookup(name string) (*Peer, bool) {
	return r.names.Lookup(name)
}
