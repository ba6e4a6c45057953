package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/brief/internal/brief"
)

func TestBus_FanOut(t *testing.T) {
	bus := NewBus()
	a, unsubA := bus.Subscribe(1)
	b, unsubB := bus.Subscribe(1)
	defer unsubB()

	bus.Notify(brief.Event{Kind: brief.EventFeedUpdated, FeedID: "F1"})
	assert.Equal(t, "F1", (<-a).FeedID)
	assert.Equal(t, "F1", (<-b).FeedID)

	unsubA()
	unsubA()
	_, open := <-a
	assert.False(t, open)

	bus.Notify(brief.Event{Kind: brief.EventFeedLoading})
	assert.Equal(t, brief.EventFeedLoading, (<-b).Kind)
}

func TestBus_DropsForFullSubscriber(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	bus.Notify(brief.Event{Kind: brief.EventFeedLoading})
	bus.Notify(brief.Event{Kind: brief.EventFeedError})

	require.Len(t, ch, 1)
	assert.Equal(t, brief.EventFeedLoading, (<-ch).Kind)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Notify(brief.Event{Kind: brief.EventFeedListInvalidated})
	r.Notify(brief.Event{Kind: brief.EventFeedTitleChanged, FeedID: "F"})

	assert.Equal(t, []brief.EventKind{brief.EventFeedListInvalidated, brief.EventFeedTitleChanged}, r.Kinds())
	assert.Len(t, r.Events(), 2)

	r.Reset()
	assert.Empty(t, r.Events())
}
