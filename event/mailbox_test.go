package event

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/splinter-dev/splinter/store"
)

func TestBroadcastByTypeDeliversToTypedAndWildcard(t *testing.T) {
	s := store.NewMemStore()
	reg := prometheus.NewRegistry()
	counters, err := NewCounters(reg)
	require.NoError(t, err)
	m := NewMailbox(s, counters)

	var typed, wild []store.Event
	m.AddSubscriber("test_app", SubscriberFunc(func(e store.Event) { typed = append(typed, e) }))
	m.AddSubscriber(WildcardType, SubscriberFunc(func(e store.Event) { wild = append(wild, e) }))
	m.AddSubscriber("other_app", SubscriberFunc(func(e store.Event) { t.Fatal("should not be notified") }))

	_, err = m.BroadcastByType(store.Event{EventType: "ProposalSubmitted", ManagementType: "test_app", Timestamp: time.Now()})
	require.NoError(t, err)

	require.Len(t, typed, 1)
	require.Len(t, wild, 1)
}

func TestGetEventsSinceFiltersByManagementType(t *testing.T) {
	s := store.NewMemStore()
	m := NewMailbox(s, nil)

	_, err := m.BroadcastByType(store.Event{EventType: "A", ManagementType: "test_app"})
	require.NoError(t, err)
	_, err = m.BroadcastByType(store.Event{EventType: "B", ManagementType: "other_app"})
	require.NoError(t, err)

	all, err := m.GetEventsSince(0, "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	filtered, err := m.GetEventsSince(0, "test_app")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, "A", filtered[0].EventType)
}

func TestBroadcastByTypeIncrementsEventsAppendedCounter(t *testing.T) {
	s := store.NewMemStore()
	reg := prometheus.NewRegistry()
	counters, err := NewCounters(reg)
	require.NoError(t, err)
	m := NewMailbox(s, counters)

	_, err = m.BroadcastByType(store.Event{EventType: "A", ManagementType: "test_app"})
	require.NoError(t, err)
	require.Equal(t, float64(1), testutil.ToFloat64(counters.EventsAppended))
}
