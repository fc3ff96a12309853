// Package events fans chain progress out to live subscribers (the SSE
// endpoint) and keeps a short per-run history so late subscribers can catch
// up.
package events

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	TypeRunStarted   = "run.started"
	TypeStepRecorded = "step.recorded"
	TypeRunCompleted = "run.completed"
)

const (
	subscriberBuffer  = 16
	defaultHistoryCap = 256
	defaultMaxRuns    = 128
)

type RunEvent struct {
	RunID   string         `json:"run_id"`
	Seq     int64          `json:"seq"`
	Type    string         `json:"type"`
	Ts      string         `json:"ts"`
	Source  string         `json:"source"`
	TraceID string         `json:"trace_id,omitempty"`
	Payload map[string]any `json:"payload"`
}

// Terminal reports whether no further events follow this one.
func (e RunEvent) Terminal() bool {
	return e.Type == TypeRunCompleted
}

type history struct {
	seq    int64
	events []RunEvent
}

// Broker delivers events per run id. Slow subscribers drop events rather than
// block publishers.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan RunEvent]struct{}
	histories   map[string]*history
	order       []string
	historyCap  int
	maxRuns     int
}

func NormalizeType(eventType string) string {
	return strings.TrimSpace(strings.ToLower(eventType))
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: map[string]map[chan RunEvent]struct{}{},
		histories:   map[string]*history{},
		historyCap:  defaultHistoryCap,
		maxRuns:     defaultMaxRuns,
	}
}

func (b *Broker) Subscribe(ctx context.Context, runID string) <-chan RunEvent {
	ch := make(chan RunEvent, subscriberBuffer)

	b.mu.Lock()
	if b.subscribers[runID] == nil {
		b.subscribers[runID] = map[chan RunEvent]struct{}{}
	}
	b.subscribers[runID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if b.subscribers[runID] != nil {
			delete(b.subscribers[runID], ch)
			if len(b.subscribers[runID]) == 0 {
				delete(b.subscribers, runID)
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

// Publish stamps the event with the run's next sequence number (when unset)
// and a timestamp, records it in the run's history and delivers it to current
// subscribers.
func (b *Broker) Publish(event RunEvent) RunEvent {
	event.Type = NormalizeType(event.Type)
	if event.Ts == "" {
		event.Ts = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}

	b.mu.Lock()
	h := b.histories[event.RunID]
	if h == nil {
		h = &history{}
		b.histories[event.RunID] = h
		b.order = append(b.order, event.RunID)
		b.evictLocked()
	}
	if event.Seq <= 0 {
		event.Seq = h.seq + 1
	}
	if event.Seq > h.seq {
		h.seq = event.Seq
	}
	h.events = append(h.events, event)
	if len(h.events) > b.historyCap {
		h.events = h.events[len(h.events)-b.historyCap:]
	}
	// Subscribers are closed under the same lock, so delivery happens here.
	for ch := range b.subscribers[event.RunID] {
		select {
		case ch <- event:
		default:
		}
	}
	b.mu.Unlock()
	return event
}

// History returns the retained events of a run with Seq greater than
// afterSeq.
func (b *Broker) History(runID string, afterSeq int64) []RunEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h := b.histories[runID]
	if h == nil {
		return nil
	}
	out := make([]RunEvent, 0, len(h.events))
	for _, event := range h.events {
		if event.Seq > afterSeq {
			out = append(out, event)
		}
	}
	return out
}

func (b *Broker) evictLocked() {
	for len(b.order) > b.maxRuns {
		oldest := b.order[0]
		b.order = b.order[1:]
		delete(b.histories, oldest)
	}
}
