// ABOUTME: In-memory feed of live thread changes for connected viewers
// ABOUTME: Fans out appends and metadata updates, replaying the latest metadata to new viewers

package conversation

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/2389/coven-assistant/internal/store"
)

// subscriberBufferSize is the channel buffer for each viewer.
const subscriberBufferSize = 64

// ThreadEventKind names a ThreadEvent.
type ThreadEventKind string

const (
	EventMessageAppended ThreadEventKind = "message_appended"
	EventThreadUpdated   ThreadEventKind = "thread_updated"
)

// ThreadEvent is a change to one thread, pushed to its viewers.
// For appends, Index is the position of Message in the append log.
type ThreadEvent struct {
	Kind     ThreadEventKind `json:"kind"`
	ThreadID string          `json:"thread_id"`
	Index    int             `json:"index"`
	Message  json.RawMessage `json:"message,omitempty"`
	Thread   *store.Thread   `json:"thread,omitempty"`
}

// viewer is one open subscription.
type viewer struct {
	ch chan *ThreadEvent
}

// EventBroadcaster fans thread changes out to everyone watching a thread, so
// a second browser tab sees new messages and renames without polling.
//
// The most recent thread_updated event per thread is retained and delivered
// first to each new viewer, so a late tab starts from current metadata.
// Appends are not replayed; the message log is the source for those.
type EventBroadcaster struct {
	mu      sync.Mutex
	viewers map[string]map[*viewer]struct{} // threadID -> viewers
	latest  map[string]*ThreadEvent         // threadID -> last thread_updated
	closed  bool
	logger  *slog.Logger
}

// NewEventBroadcaster creates a broadcaster. Pass nil logger for default.
func NewEventBroadcaster(logger *slog.Logger) *EventBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBroadcaster{
		viewers: make(map[string]map[*viewer]struct{}),
		latest:  make(map[string]*ThreadEvent),
		logger:  logger.With("component", "broadcaster"),
	}
}

// Subscribe returns a channel of changes to threadID. The channel is closed
// when ctx ends or the broadcaster is closed; after Close it is returned
// already closed.
func (b *EventBroadcaster) Subscribe(ctx context.Context, threadID string) <-chan *ThreadEvent {
	v := &viewer{ch: make(chan *ThreadEvent, subscriberBufferSize)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(v.ch)
		return v.ch
	}
	if last, ok := b.latest[threadID]; ok {
		v.ch <- last
	}
	if b.viewers[threadID] == nil {
		b.viewers[threadID] = make(map[*viewer]struct{})
	}
	b.viewers[threadID][v] = struct{}{}
	b.mu.Unlock()

	b.logger.Debug("viewer joined", "thread_id", threadID)

	go func() {
		<-ctx.Done()
		b.remove(threadID, v)
	}()

	return v.ch
}

// Publish delivers event to every viewer of event.ThreadID. It never blocks:
// a viewer whose buffer is full misses the event.
func (b *EventBroadcaster) Publish(event *ThreadEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	if event.Kind == EventThreadUpdated {
		b.latest[event.ThreadID] = event
	}

	for v := range b.viewers[event.ThreadID] {
		select {
		case v.ch <- event:
		default:
			b.logger.Debug("dropped event for slow viewer",
				"thread_id", event.ThreadID,
				"kind", event.Kind)
		}
	}
}

// ViewerCount returns the number of open subscriptions for a thread.
func (b *EventBroadcaster) ViewerCount(threadID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.viewers[threadID])
}

// Close ends every subscription. Later Publish calls are ignored.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for threadID, viewers := range b.viewers {
		for v := range viewers {
			close(v.ch)
		}
		delete(b.viewers, threadID)
	}
	clear(b.latest)

	b.logger.Debug("broadcaster closed")
}

func (b *EventBroadcaster) remove(threadID string, v *viewer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	viewers, ok := b.viewers[threadID]
	if !ok {
		return
	}
	if _, ok := viewers[v]; !ok {
		return
	}

	delete(viewers, v)
	close(v.ch)
	if len(viewers) == 0 {
		delete(b.viewers, threadID)
	}

	b.logger.Debug("viewer left", "thread_id", threadID)
}
