package skeleton

import (
	"sync"

	"github.com/ara-ipc/binding/internal/router"
	"github.com/ara-ipc/binding/internal/wire"
)

// subscriber is one entry in an Event's subscriber map: a weak-style
// reference to the connection plus the reference count that makes repeated
// subscribes and unsubscribes cancel symmetrically.
//
// Go has no native weak references; the same effect (iteration tolerates
// dead entries, cleanup happens only on explicit unsubscribe/disconnect)
// is achieved by holding the raw *Connection, which the owning Server
// keeps alive anyway, and checking CheckIsOpen before every send instead
// of upgrading a weak pointer.
type subscriber struct {
	conn  *Connection
	count int
}

// Event is the backend behind one event of a provided instance: either a
// field notifier (caches the last published value, replayed to new
// subscribers) or a plain event. The owning Backend holds one Event per
// registered event id and forwards subscribe/unsubscribe/disconnect to it.
type Event struct {
	provided wire.ProvidedServiceInstanceID
	id       wire.EventID
	isField  bool

	sendingLock    sync.Mutex
	eventData      []byte
	haveEventData  bool
	sessionHandler *wire.SessionHandler

	subscribersLock sync.Mutex
	subscribers     map[wire.ConnectionID]*subscriber
}

// NewEvent constructs an Event backend for (provided, eventID). isField
// selects field-notifier semantics (initial-value replay on subscribe).
func NewEvent(provided wire.ProvidedServiceInstanceID, eventID wire.EventID, isField bool) *Event {
	return &Event{
		provided:       provided,
		id:             eventID,
		isField:        isField,
		sessionHandler: wire.NewSessionHandler(0),
		subscribers:    make(map[wire.ConnectionID]*subscriber),
	}
}

// Send publishes sample to every live subscriber. Lock ordering is
// sendingLock before subscribersLock, always.
func (e *Event) Send(sample []byte) {
	e.sendingLock.Lock()
	defer e.sendingLock.Unlock()

	if e.isField {
		e.eventData = append([]byte(nil), sample...)
		e.haveEventData = true
	}
	session := e.sessionHandler.Advance()
	hdr := wire.NotificationHeader{
		Service:  e.provided.Service,
		Instance: e.provided.Instance,
		Major:    e.provided.Major,
		Event:    e.id,
		Session:  session,
	}

	e.subscribersLock.Lock()
	subs := make([]*subscriber, 0, len(e.subscribers))
	for _, s := range e.subscribers {
		subs = append(subs, s)
	}
	e.subscribersLock.Unlock()

	for _, s := range subs {
		if !s.conn.conn.CheckIsOpen() {
			// Dead entry: ignored here, cleaned up on explicit
			// unsubscribe or disconnect.
			continue
		}
		payload := append([]byte(nil), sample...)
		s.conn.SendNotification(hdr, payload)
	}
}

// Subscribe implements router.SkeletonHandler.Subscribe for this single
// event (the owning per-instance backend dispatches by EventID to the
// right Event before calling this).
func (e *Event) Subscribe(connID wire.ConnectionID, conn router.SkeletonConn, header wire.SubscribeHeader, skelConn *Connection) {
	if e.isField {
		e.sendingLock.Lock()
		defer e.sendingLock.Unlock()
	}

	e.subscribersLock.Lock()
	s, exists := e.subscribers[connID]
	if !exists {
		s = &subscriber{conn: skelConn}
		e.subscribers[connID] = s
	}
	s.count++
	e.subscribersLock.Unlock()

	conn.SendSubscribeAck(header)

	if e.isField && e.haveEventData {
		session := e.sessionHandler.Get()
		hdr := wire.NotificationHeader{
			Service:  e.provided.Service,
			Instance: e.provided.Instance,
			Major:    e.provided.Major,
			Event:    e.id,
			Session:  session,
		}
		skelConn.SendNotification(hdr, append([]byte(nil), e.eventData...))
	}
}

// Unsubscribe decrements the subscriber's refcount, removing the entry
// once it reaches zero, so N subscribes cancelled by N unsubscribes leave
// the map unchanged.
func (e *Event) Unsubscribe(connID wire.ConnectionID) {
	e.subscribersLock.Lock()
	defer e.subscribersLock.Unlock()
	s, ok := e.subscribers[connID]
	if !ok {
		return
	}
	s.count--
	if s.count <= 0 {
		delete(e.subscribers, connID)
	}
}

// OnDisconnect removes connID's subscription unconditionally, whatever its
// refcount.
func (e *Event) OnDisconnect(connID wire.ConnectionID) {
	e.subscribersLock.Lock()
	defer e.subscribersLock.Unlock()
	delete(e.subscribers, connID)
}

// reset clears the subscriber map when the instance stops being offered.
func (e *Event) reset() {
	e.subscribersLock.Lock()
	defer e.subscribersLock.Unlock()
	e.subscribers = make(map[wire.ConnectionID]*subscriber)
}
