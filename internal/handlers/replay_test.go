package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmaxmax/go-sse"
)

type recordingWriter struct {
	sent    []*sse.Message
	flushed int
}

func (w *recordingWriter) Send(m *sse.Message) error {
	w.sent = append(w.sent, m)
	return nil
}

func (w *recordingWriter) Flush() error {
	w.flushed++
	return nil
}

func newMessage(typ sse.EventType, data string) *sse.Message {
	m := &sse.Message{Type: typ}
	m.AppendData(data)
	return m
}

func TestLastUpdateReplayer(t *testing.T) {
	r := newLastUpdateReplayer(time.Minute)
	topic := messageIDTopic("42")

	first := newMessage(messagesSSEType, "step 1")
	last := newMessage(messagesSSEType, "step 1, step 2")
	closed := newMessage(closeMessageSSEType, "bye")

	for _, m := range []*sse.Message{first, last, closed} {
		got, err := r.Put(m, []string{topic})
		require.NoError(t, err)
		assert.Same(t, m, got)
	}

	w := &recordingWriter{}
	require.NoError(t, r.Replay(sse.Subscription{Client: w, Topics: []string{sse.DefaultTopic, topic}}))
	assert.Equal(t, []*sse.Message{last, closed}, w.sent)
	assert.Equal(t, 1, w.flushed)

	other := &recordingWriter{}
	require.NoError(t, r.Replay(sse.Subscription{Client: other, Topics: []string{messageIDTopic("7")}}))
	assert.Empty(t, other.sent)
	assert.Zero(t, other.flushed)
}

func TestLastUpdateReplayerIgnoresBroadcasts(t *testing.T) {
	r := newLastUpdateReplayer(time.Minute)

	_, err := r.Put(newMessage(sse.Type("closeChat"), "bye"), []string{sse.DefaultTopic})
	require.NoError(t, err)
	assert.Empty(t, r.topics)

	_, err = r.Put(newMessage(messagesSSEType, "x"), nil)
	assert.ErrorIs(t, err, sse.ErrNoTopic)
}

func TestLastUpdateReplayerPrunes(t *testing.T) {
	r := newLastUpdateReplayer(time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	_, err := r.Put(newMessage(messagesSSEType, "old"), []string{messageIDTopic("old")})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = r.Put(newMessage(messagesSSEType, "new"), []string{messageIDTopic("new")})
	require.NoError(t, err)

	assert.NotContains(t, r.topics, messageIDTopic("old"))
	assert.Contains(t, r.topics, messageIDTopic("new"))
}
