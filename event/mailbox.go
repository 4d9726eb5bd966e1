// Package event implements the admin service's event mailbox (spec
// §4.10): durable, sequentially numbered events, delivered synchronously
// to type-matched subscribers, with store-backed catch-up for
// newly-attached subscribers.
package event

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splinter-dev/splinter/store"
)

// WildcardType is the management type that makes a subscriber receive
// every event regardless of its own circuit_management_type (spec
// §4.10, "the `*` feature").
const WildcardType = "*"

// Subscriber receives events synchronously as they are broadcast.
type Subscriber interface {
	Notify(store.Event)
}

// SubscriberFunc adapts a plain function to Subscriber.
type SubscriberFunc func(store.Event)

// Notify implements Subscriber.
func (f SubscriberFunc) Notify(e store.Event) { f(e) }

// Counters are the metrics the mailbox keeps about proposal and event
// traffic: a small counter set registered at construction time rather
// than computed ad hoc.
type Counters struct {
	ProposalsSubmitted prometheus.Counter
	ProposalsAccepted  prometheus.Counter
	ProposalsRejected  prometheus.Counter
	EventsAppended     prometheus.Counter
}

// NewCounters builds and registers the standard Counters set against reg.
func NewCounters(reg prometheus.Registerer) (*Counters, error) {
	c := &Counters{
		ProposalsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "splinter_admin_proposals_submitted_total",
			Help: "Total number of circuit proposals submitted to this node.",
		}),
		ProposalsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "splinter_admin_proposals_accepted_total",
			Help: "Total number of circuit proposals accepted by consensus.",
		}),
		ProposalsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "splinter_admin_proposals_rejected_total",
			Help: "Total number of circuit proposals rejected by consensus or removed by their requester.",
		}),
		EventsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "splinter_admin_events_appended_total",
			Help: "Total number of admin events appended to the store.",
		}),
	}
	for _, col := range []prometheus.Collector{c.ProposalsSubmitted, c.ProposalsAccepted, c.ProposalsRejected, c.EventsAppended} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Mailbox is the reference implementation of C10.
type Mailbox struct {
	mu          sync.Mutex
	store       store.AdminStore
	subscribers map[string][]Subscriber
	counters    *Counters
}

// NewMailbox constructs a Mailbox backed by s. counters may be nil, in
// which case event counting is a no-op.
func NewMailbox(s store.AdminStore, counters *Counters) *Mailbox {
	return &Mailbox{
		store:       s,
		subscribers: make(map[string][]Subscriber),
		counters:    counters,
	}
}

// AddSubscriber registers sub for events of managementType, or for every
// type if managementType is WildcardType.
func (m *Mailbox) AddSubscriber(managementType string, sub Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers[managementType] = append(m.subscribers[managementType], sub)
}

// BroadcastByType appends e to the durable store, assigns it a sequence
// id, and synchronously delivers it to every subscriber registered for
// e.ManagementType plus every wildcard subscriber (spec §4.10).
func (m *Mailbox) BroadcastByType(e store.Event) (store.Event, error) {
	sequenced, err := m.store.AddEvent(e)
	if err != nil {
		return store.Event{}, err
	}
	if m.counters != nil {
		m.counters.EventsAppended.Inc()
	}

	m.mu.Lock()
	subs := append([]Subscriber{}, m.subscribers[sequenced.ManagementType]...)
	subs = append(subs, m.subscribers[WildcardType]...)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.Notify(sequenced)
	}
	return sequenced, nil
}

// GetEventsSince returns every event with id > since and, if
// managementType is non-empty, matching it (spec §4.10 catch-up).
func (m *Mailbox) GetEventsSince(since int64, managementType string) ([]store.Event, error) {
	if managementType == "" {
		return m.store.ListEventsSince(since)
	}
	return m.store.ListEventsByManagementTypeSince(managementType, since)
}
