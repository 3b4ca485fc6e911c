package tracker

import (
	"sync"

	"github.com/pitabwire/aegis/internal/observability"
	"github.com/pitabwire/aegis/model"
)

// ChangeType classifies a change feed event.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ChangeEvent is one instance-level change pushed to feed subscribers. Every
// event carries the full row, which is what lets consumers merge by naive
// last-write-wins on the instance id.
type ChangeEvent struct {
	Type     ChangeType             `json:"type"`
	Instance model.WorkflowInstance `json:"instance"`
}

// ConnState is the connection-state signal a subscription surfaces to its
// consumer instead of throwing. Consumers treat StateError as "data may be
// stale" and re-fetch a snapshot.
type ConnState string

const (
	StateIdle       ConnState = "idle"
	StateConnecting ConnState = "connecting"
	StateConnected  ConnState = "connected"
	StateError      ConnState = "error"
)

// Subscription is one tenant-scoped consumer of the change feed. Events
// arrive on C until Close. A subscriber that cannot keep up has events
// dropped and its state moved to StateError; it must re-subscribe and take a
// fresh snapshot.
type Subscription struct {
	C chan ChangeEvent

	feed     *Feed
	tenantID string
	id       int

	mu    sync.Mutex
	state ConnState
}

// State returns the subscription's current connection state.
func (s *Subscription) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscription) setState(state ConnState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Close detaches the subscription from the feed and closes C.
func (s *Subscription) Close() {
	s.feed.unsubscribe(s)
}

// Feed is an in-process change feed broker. Publishing never blocks: a full
// subscriber buffer drops the event and marks that subscription errored.
type Feed struct {
	mu      sync.Mutex
	nextID  int
	subs    map[string]map[int]*Subscription
	metrics *observability.Metrics
}

// NewFeed creates an empty change feed broker.
func NewFeed(metrics *observability.Metrics) *Feed {
	return &Feed{
		subs:    make(map[string]map[int]*Subscription),
		metrics: metrics,
	}
}

// Subscribe registers a consumer for one tenant's events. The buffer bounds
// how far the consumer may lag before events are dropped.
func (f *Feed) Subscribe(tenantID string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	sub := &Subscription{
		C:        make(chan ChangeEvent, buffer),
		feed:     f,
		tenantID: tenantID,
		id:       f.nextID,
		state:    StateConnected,
	}
	if f.subs[tenantID] == nil {
		f.subs[tenantID] = make(map[int]*Subscription)
	}
	f.subs[tenantID][sub.id] = sub

	if f.metrics != nil {
		f.metrics.FeedSubscribers.Inc()
	}
	return sub
}

func (f *Feed) unsubscribe(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tenantSubs := f.subs[sub.tenantID]
	if _, ok := tenantSubs[sub.id]; !ok {
		return
	}
	delete(tenantSubs, sub.id)
	if len(tenantSubs) == 0 {
		delete(f.subs, sub.tenantID)
	}
	close(sub.C)

	if f.metrics != nil {
		f.metrics.FeedSubscribers.Dec()
	}
}

// Publish delivers an event to every subscriber of the instance's tenant.
func (f *Feed) Publish(event ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sub := range f.subs[event.Instance.TenantID] {
		select {
		case sub.C <- event:
		default:
			sub.setState(StateError)
			if f.metrics != nil {
				f.metrics.FeedEventsDropped.Inc()
			}
		}
	}
}
