package handlers

import (
	"strings"
	"time"

	"github.com/tmaxmax/go-sse"
)

// lastUpdateReplayer is an sse.Replayer that replays, to a client subscribing to a message topic, the
// last update and the close event published on that topic. Every update carries the whole reply, so a
// client that subscribed after the run started, or even after it ended, still renders it completely.
//
// Like every sse.Replayer it is only used from the provider's goroutine and needs no locking.
type lastUpdateReplayer struct {
	ttl time.Duration
	now func() time.Time

	topics map[string]*replayEntry
}

type replayEntry struct {
	update *sse.Message
	closed *sse.Message
	at     time.Time
}

const messageTopicPrefix = "message-"

func newLastUpdateReplayer(ttl time.Duration) *lastUpdateReplayer {
	return &lastUpdateReplayer{
		ttl:    ttl,
		now:    time.Now,
		topics: make(map[string]*replayEntry),
	}
}

// Put implements sse.Replayer.
func (r *lastUpdateReplayer) Put(msg *sse.Message, topics []string) (*sse.Message, error) {
	if len(topics) == 0 {
		return nil, sse.ErrNoTopic
	}

	now := r.now()
	r.prune(now)

	for _, topic := range topics {
		if !strings.HasPrefix(topic, messageTopicPrefix) {
			continue
		}

		e, ok := r.topics[topic]
		if !ok {
			e = &replayEntry{}
			r.topics[topic] = e
		}
		e.at = now

		switch msg.Type.String() {
		case messagesSSEType.String():
			e.update = msg
		case closeMessageSSEType.String():
			e.closed = msg
		}
	}

	return msg, nil
}

// Replay implements sse.Replayer.
func (r *lastUpdateReplayer) Replay(sub sse.Subscription) error {
	sent := false
	for _, topic := range sub.Topics {
		e, ok := r.topics[topic]
		if !ok {
			continue
		}
		for _, msg := range []*sse.Message{e.update, e.closed} {
			if msg == nil {
				continue
			}
			if err := sub.Client.Send(msg); err != nil {
				return err
			}
			sent = true
		}
	}

	if !sent {
		return nil
	}
	return sub.Client.Flush()
}

func (r *lastUpdateReplayer) prune(now time.Time) {
	for topic, e := range r.topics {
		if now.Sub(e.at) > r.ttl {
			delete(r.topics, topic)
		}
	}
}
