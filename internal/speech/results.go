package speech

import "sync"

// Event types delivered through the result queue.
const (
	EventText     = "text"
	EventComplete = "complete"
	EventError    = "error"
)

// Event is one unit of recognition output buffered for polling.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Text      string `json:"text,omitempty"`
	IsFinal   bool   `json:"is_final,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ResultQueue is an unbounded ordered queue of recognition events.
// Upstream callbacks append, pollers drain. Append never blocks the
// caller beyond the queue mutex.
type ResultQueue struct {
	mu     sync.Mutex
	events []Event
}

func NewResultQueue() *ResultQueue {
	return &ResultQueue{}
}

func (q *ResultQueue) Append(evt Event) {
	q.mu.Lock()
	q.events = append(q.events, evt)
	q.mu.Unlock()
}

// Drain removes and returns all buffered events whose session matches
// the filter (empty filter matches everything), preserving arrival
// order. Mismatching events are kept, in order, for a later poll with a
// different or absent filter. Under concurrent pollers with different
// filters the relative order of kept entries versus new appends can
// shift; single-consumer ordering is exact.
func (q *ResultQueue) Drain(sessionID string) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if sessionID == "" {
		out := q.events
		q.events = nil
		return out
	}

	var out, keep []Event
	for _, evt := range q.events {
		if evt.SessionID == sessionID {
			out = append(out, evt)
		} else {
			keep = append(keep, evt)
		}
	}
	q.events = keep
	return out
}

// Reset discards everything buffered. Called when a new recognition
// session starts so stale results from a previous run never leak into
// the new session's polls.
func (q *ResultQueue) Reset() {
	q.mu.Lock()
	q.events = nil
	q.mu.Unlock()
}

func (q *ResultQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
