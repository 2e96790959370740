package engine

import (
	"sync"
	"time"

	"github.com/clearspan/lcaflow/internal/model"
)

// feedBacklog bounds how many past events a late subscriber replays.
const feedBacklog = 256

// Feed is the live event stream for one job. Subscribers receive the backlog
// first, then live events. The feed closes when the job reaches a terminal
// status.
type Feed struct {
	mu      sync.Mutex
	backlog []model.Event
	subs    map[chan model.Event]struct{}
	closed  bool
}

func newFeed() *Feed {
	return &Feed{subs: make(map[chan model.Event]struct{})}
}

// Publish appends ev to the backlog and fans it out. Slow subscribers drop
// events rather than blocking the pipeline.
func (f *Feed) Publish(ev model.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.backlog = append(f.backlog, ev)
	if len(f.backlog) > feedBacklog {
		f.backlog = f.backlog[len(f.backlog)-feedBacklog:]
	}
	for ch := range f.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel carrying the backlog followed by live events,
// and a cancel function. The channel closes when the feed closes or the
// subscription is cancelled.
func (f *Feed) Subscribe() (<-chan model.Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan model.Event, feedBacklog+16)
	for _, ev := range f.backlog {
		ch <- ev
	}
	if f.closed {
		close(ch)
		return ch, func() {}
	}

	f.subs[ch] = struct{}{}
	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Close ends the stream for all subscribers.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.subs {
		close(ch)
	}
	f.subs = make(map[chan model.Event]struct{})
}

// EventHub holds one feed per running job.
type EventHub struct {
	mu    sync.Mutex
	feeds map[string]*Feed
}

// NewEventHub creates an EventHub.
func NewEventHub() *EventHub {
	return &EventHub{feeds: make(map[string]*Feed)}
}

// Feed returns the feed for jobID, creating it on first use.
func (h *EventHub) Feed(jobID string) *Feed {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.feeds[jobID]
	if !ok {
		f = newFeed()
		h.feeds[jobID] = f
	}
	return f
}

// Publish emits one event on the job's feed.
func (h *EventHub) Publish(jobID string, severity model.EventSeverity, source, fileID, message string) {
	h.Feed(jobID).Publish(model.Event{
		Timestamp: time.Now().UTC(),
		Severity:  severity,
		Source:    source,
		FileID:    fileID,
		Message:   message,
	})
}

// Close terminates the job's feed and forgets it.
func (h *EventHub) Close(jobID string) {
	h.mu.Lock()
	f, ok := h.feeds[jobID]
	delete(h.feeds, jobID)
	h.mu.Unlock()
	if ok {
		f.Close()
	}
}
