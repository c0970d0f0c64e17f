package dispatch

import (
	"sync"

	"github.com/tbury/scatter/internal/model"
)

// subscriberBufferSize is the channel buffer for each result subscriber.
// Entries are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 16

// ResultBroker manages per-query streaming of branch results to subscribers.
// It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers (those
// subscribing after a run finishes) receive a closed channel instead of
// blocking forever. Each marker is a few bytes, which is acceptable for the
// expected query volume.
type ResultBroker struct {
	mu     sync.Mutex
	topics map[string]*resultTopic
}

type resultTopic struct {
	subs   map[int]chan model.ResultEntry
	nextID int
	closed bool
}

// NewResultBroker creates a new result broker.
func NewResultBroker() *ResultBroker {
	return &ResultBroker{
		topics: make(map[string]*resultTopic),
	}
}

// Subscribe returns a channel that receives branch results for the given
// query run and an unsubscribe function. If the run has already finished
// (Close was called), the returned channel is immediately closed.
func (b *ResultBroker) Subscribe(queryID string) (<-chan model.ResultEntry, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[queryID]
	if !ok {
		t = &resultTopic{subs: make(map[int]chan model.ResultEntry)}
		b.topics[queryID] = t
	}

	ch := make(chan model.ResultEntry, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends a branch result to all subscribers of the given query run.
// Entries are dropped for subscribers whose buffers are full.
func (b *ResultBroker) Publish(queryID string, e model.ResultEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[queryID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- e:
		default:
			// Drop for slow subscribers to avoid blocking the run.
		}
	}
}

// Close signals that no more results will be published for the given query
// run. All subscriber channels are closed and future Subscribe calls return
// a closed channel.
func (b *ResultBroker) Close(queryID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[queryID]
	if !ok {
		// Create a closed marker so late subscribers get a closed channel.
		b.topics[queryID] = &resultTopic{subs: make(map[int]chan model.ResultEntry), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
