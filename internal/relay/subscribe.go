package relay

import (
	"context"
	"fmt"

	"github.com/mossy-p/videoroom-relay/internal/janus"
	"github.com/mossy-p/videoroom-relay/internal/logger"
	"github.com/mossy-p/videoroom-relay/internal/models"
)

// subscribeAttempt carries everything a delayed retry needs to decide whether
// it is still wanted.
type subscribeAttempt struct {
	feed    uint64
	attempt int
	gen     uint64
}

// subscribe replaces the current subscription, if any, with one for feed.
func (p *Peer) subscribe(ctx context.Context, feed uint64) error {
	if p.pub == nil {
		return nil
	}

	p.subGen++
	if p.sub != nil {
		sub := p.sub
		p.sub = nil
		release(ctx, p.relay.cfg.ReleaseTimeout, "subscriber handle", sub.Detach)
	}
	return p.trySubscribe(ctx, subscribeAttempt{feed: feed, attempt: 1, gen: p.subGen})
}

// trySubscribe polls the room for feed and joins it as a subscriber once the
// feed is listed with at least one codec.
func (p *Peer) trySubscribe(ctx context.Context, a subscribeAttempt) error {
	if a.gen != p.subGen || p.pub == nil {
		logger.Debugf("Peer %s: dropping stale subscribe to feed %d (attempt %d)", p.ID, a.feed, a.attempt)
		return nil
	}
	room := p.relay.cfg.Room

	parts, err := janus.ListParticipants(ctx, p.pub, room)
	if err != nil {
		return err
	}

	var feed *janus.Participant
	for i := range parts {
		if parts[i].ID == a.feed {
			feed = &parts[i]
			break
		}
	}
	switch {
	case feed == nil:
		return p.retrySubscribe(a, errFeedNotFound)
	case !feed.HasCodecs():
		return p.retrySubscribe(a, errFeedNotReady)
	}

	sub, err := p.sess.Attach(ctx, janus.PluginVideoRoom)
	if err != nil {
		return fmt.Errorf("attach subscriber: %w", err)
	}
	sub.Bind(subscriberEvents{p})
	p.sub = sub

	resp, err := sub.Message(ctx, map[string]any{
		"request":     "join",
		"room":        room,
		"ptype":       "subscriber",
		"feed":        a.feed,
		"offer_audio": true,
		"offer_video": true,
	}, nil)
	if err != nil {
		p.sub = nil
		release(ctx, p.relay.cfg.ReleaseTimeout, "subscriber handle", sub.Detach)
		return fmt.Errorf("join feed %d: %w", a.feed, err)
	}

	if resp.Jsep == nil {
		p.sub = nil
		release(ctx, p.relay.cfg.ReleaseTimeout, "subscriber handle", sub.Detach)
		return p.retrySubscribe(a, errNoOffer)
	}

	logger.Infof("Peer %s subscribed to feed %d after %d attempt(s)", p.ID, a.feed, a.attempt)
	p.send(models.Jsep(models.TypeSubscriberJsep, *resp.Jsep))
	return nil
}

// retrySubscribe schedules the next attempt after a flat delay, or gives up
// silently once the budget is spent.
func (p *Peer) retrySubscribe(a subscribeAttempt, reason error) error {
	policy := p.relay.cfg.Retry
	if a.attempt >= policy.MaxAttempts {
		logger.Warnf("Peer %s: feed %d: %v after %d attempts (%v)", p.ID, a.feed, ErrGaveUp, a.attempt, reason)
		return nil
	}

	logger.Debugf("Peer %s: feed %d: %v, retry in %v", p.ID, a.feed, reason, policy.Delay)
	next := a
	next.attempt++
	p.relay.schedule(policy.Delay, func() {
		p.enqueue(func(ctx context.Context) error {
			return p.trySubscribe(ctx, next)
		})
	})
	return nil
}
