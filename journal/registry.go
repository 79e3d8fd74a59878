package journal

import "sync"

// EventTypeRegistry is a component that constructs tracked EventType tokens,
// for usage with a Journal.
type EventTypeRegistry interface {
	// RegisterEventType introduces a new event type to a journal, and
	// returns an EventType token that components can later use to check whether
	// journalling for that type is enabled/suppressed, and to tag journal
	// entries appropriately.
	RegisterEventType(system, event string) EventType
}

// eventTypeRegistry is an embeddable mixin that takes care of tracking disabled
// event types, and returning initialized/safe EventTypes when requested.
type eventTypeRegistry struct {
	lk sync.Mutex

	m map[string]EventType
}

var _ EventTypeRegistry = (*eventTypeRegistry)(nil)

func NewEventTypeRegistry(disabled DisabledEvents) EventTypeRegistry {
	ret := &eventTypeRegistry{
		m: make(map[string]EventType, len(disabled)+8),
	}

	for _, et := range disabled {
		et.enabled, et.safe = false, true
		ret.m[et.String()] = et
	}

	return ret
}

func (d *eventTypeRegistry) RegisterEventType(system, event string) EventType {
	d.lk.Lock()
	defer d.lk.Unlock()

	et := EventType{System: system, Event: event}
	if known, ok := d.m[et.String()]; ok {
		return known
	}

	et.enabled, et.safe = true, true
	d.m[et.String()] = et
	return et
}

type nilJournal struct{}

// nilj is a singleton nil journal.
var nilj Journal = &nilJournal{}

// NilJournal returns a journal that drops every event.
func NilJournal() Journal {
	return nilj
}

func (n *nilJournal) RegisterEventType(_, _ string) EventType { return EventType{} }

func (n *nilJournal) RecordEvent(_ EventType, _ func() interface{}) {}

func (n *nilJournal) Close() error { return nil }

// MaybeRecord calls RecordEvent unless j is nil or the event type is disabled,
// in which case the supplier is never evaluated.
func MaybeRecord(j Journal, evtType EventType, supplier func() interface{}) {
	if j == nil || j == nilj || !evtType.Enabled() {
		return
	}
	j.RecordEvent(evtType, supplier)
}
