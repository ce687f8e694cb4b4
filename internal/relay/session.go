package relay

import (
	"context"
	"fmt"

	"github.com/mossy-p/videoroom-relay/internal/janus"
	"github.com/mossy-p/videoroom-relay/internal/logger"
)

// onJoin binds name to p, opens a gateway session and joins the room as a
// publisher. It returns the participant id assigned by the room. On failure
// nothing stays bound or allocated.
func (p *Peer) onJoin(ctx context.Context, name string) (uint64, error) {
	r := p.relay
	if err := r.names.Bind(name, p); err != nil {
		return 0, err
	}

	sess, err := r.gw.Create(ctx)
	if err != nil {
		r.names.Unbind(name, p)
		return 0, fmt.Errorf("create session: %w", err)
	}

	pub, err := sess.Attach(ctx, janus.PluginVideoRoom)
	if err != nil {
		release(ctx, r.cfg.ReleaseTimeout, "session", sess.Destroy)
		r.names.Unbind(name, p)
		return 0, fmt.Errorf("attach publisher: %w", err)
	}
	pub.Bind(publisherEvents{p})

	resp, err := pub.Message(ctx, map[string]any{
		"request": "join",
		"room":    r.cfg.Room,
		"ptype":   "publisher",
		"display": name,
	}, nil)
	if err == nil {
		var joined janus.JoinedData
		if err = resp.Decode(&joined); err == nil {
			p.name, p.sess, p.pub = name, sess, pub
			p.participantID = joined.ID
			p.joined = true

			if r.presence != nil {
				if perr := r.presence.AddPeer(ctx, name); perr != nil {
					logger.Warnf("Failed to record presence for %s: %v", name, perr)
				}
			}
			return joined.ID, nil
		}
	}

	release(ctx, r.cfg.ReleaseTimeout, "publisher handle", pub.Detach)
	release(ctx, r.cfg.ReleaseTimeout, "session", sess.Destroy)
	r.names.Unbind(name, p)
	return 0, fmt.Errorf("join room %d: %w", r.cfg.Room, err)
}

// onLeave releases everything p owns. Each resource is released at most once
// and a failure releasing one does not stop the others. Calling it on a peer
// that never joined, or twice, does nothing.
func (p *Peer) onLeave(ctx context.Context) {
	if !p.joined {
		return
	}
	r := p.relay
	name, sess, pub, sub := p.name, p.sess, p.pub, p.sub

	p.name, p.sess, p.pub, p.sub = "", nil, nil, nil
	p.participantID = 0
	p.joined = false
	p.subGen++
	p.publishing.Store(false)
	r.names.Unbind(name, p)

	if pub != nil {
		release(ctx, r.cfg.ReleaseTimeout, "publisher handle", pub.Detach)
	}
	if sub != nil {
		release(ctx, r.cfg.ReleaseTimeout, "subscriber handle", sub.Detach)
	}
	if sess != nil {
		release(ctx, r.cfg.ReleaseTimeout, "session", sess.Destroy)
	}

	if r.presence != nil {
		release(ctx, r.cfg.ReleaseTimeout, "presence", func(ctx context.Context) error {
			return r.presence.RemovePeer(ctx, name)
		})
	}
	logger.Infof("Peer %s left as '%s'", p.ID, name)
}
