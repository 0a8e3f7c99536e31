// Package event carries engine results to presentation collaborators.
package event

import (
	"sync"

	"github.com/cory-johannsen/gacha/internal/game/catalog"
)

// Kind names an event type.
type Kind string

const (
	KindPullCompleted       Kind = "pull_completed"
	KindFusionCompleted     Kind = "fusion_completed"
	KindAutoFusionCompleted Kind = "auto_fusion_completed"
)

// Event is implemented by every published value.
type Event interface {
	Kind() Kind
}

// PullCompleted is emitted once per single or batch pull.
type PullCompleted struct {
	PlayerID string                 `json:"player_id,omitempty"`
	Stream   string                 `json:"stream"`
	Items    []catalog.ItemInstance `json:"items"`
}

// Kind implements Event.
func (PullCompleted) Kind() Kind { return KindPullCompleted }

// FusionCompleted is emitted once per successful fusion.
type FusionCompleted struct {
	PlayerID string               `json:"player_id,omitempty"`
	Source   catalog.ItemTemplate `json:"source"`
	Result   catalog.ItemTemplate `json:"result"`
	Outcome  string               `json:"outcome"`
	Consumed int                  `json:"consumed"`
	Success  bool                 `json:"success"`
}

// Kind implements Event.
func (FusionCompleted) Kind() Kind { return KindFusionCompleted }

// AutoFusionCompleted is emitted when an auto-fusion sweep terminates.
type AutoFusionCompleted struct {
	PlayerID  string           `json:"player_id,omitempty"`
	Type      catalog.ItemType `json:"type"`
	Attempts  int              `json:"attempts"`
	Successes int              `json:"successes"`
}

// Kind implements Event.
func (AutoFusionCompleted) Kind() Kind { return KindAutoFusionCompleted }

// Publisher accepts events.
type Publisher interface {
	Publish(e Event)
}

// Handler receives a published event on the publisher's goroutine.
type Handler func(e Event)

type subscription struct {
	id int
	h  Handler
}

// Bus fans each published event out to every subscriber synchronously, in
// subscription order.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   []subscription
}

// NewBus returns a Bus with no subscribers.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers h and returns a function that removes it.
// Calling the returned function more than once is a no-op.
//
// Precondition: h must not be nil.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, h: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeChan delivers events to ch without blocking. If ch is full the
// event is dropped for that subscriber.
//
// Precondition: ch must not be nil.
func (b *Bus) SubscribeChan(ch chan<- Event) (unsubscribe func()) {
	return b.Subscribe(func(e Event) {
		select {
		case ch <- e:
		default:
		}
	})
}

// Publish delivers e to every current subscriber. A nil *Bus discards e.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	subs := make([]Handler, len(b.subs))
	for i, s := range b.subs {
		subs[i] = s.h
	}
	b.mu.Unlock()
	for _, h := range subs {
		h(e)
	}
}

// Recorder is a Publisher that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
