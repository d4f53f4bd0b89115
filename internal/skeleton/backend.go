package skeleton

import (
	"github.com/ara-ipc/binding/internal/router"
	"github.com/ara-ipc/binding/internal/wire"
)

// MethodFunc is an application-supplied method implementation: given a
// request payload, it returns the response payload. Marshaling an
// application-level error into an ApplicationError payload is the
// generated stub's concern, not this dispatcher's.
type MethodFunc func(payload []byte) []byte

// Backend is the skeleton-side implementation behind one provided service
// instance: the generated method table plus one Event per registered event
// or field. It implements router.SkeletonHandler, so a Backend is exactly
// what gets passed to router.SkeletonRouter.Register /
// skeleton.Manager.CreateServer.
type Backend struct {
	provided wire.ProvidedServiceInstanceID
	methods  map[wire.MethodID]MethodFunc
	events   map[wire.EventID]*Event
}

// NewBackend constructs an empty Backend for provided. Methods and events
// are registered with RegisterMethod/RegisterEvent before the instance is
// offered.
func NewBackend(provided wire.ProvidedServiceInstanceID) *Backend {
	return &Backend{
		provided: provided,
		methods:  make(map[wire.MethodID]MethodFunc),
		events:   make(map[wire.EventID]*Event),
	}
}

// RegisterMethod binds fn as the implementation of methodID.
func (b *Backend) RegisterMethod(methodID wire.MethodID, fn MethodFunc) {
	b.methods[methodID] = fn
}

// RegisterEvent creates and returns the Event backend for eventID. Callers
// use the returned Event's Send to publish values.
func (b *Backend) RegisterEvent(eventID wire.EventID, isField bool) *Event {
	e := NewEvent(b.provided, eventID, isField)
	b.events[eventID] = e
	return e
}

// Event returns the Event backend for eventID, if registered.
func (b *Backend) Event(eventID wire.EventID) (*Event, bool) {
	e, ok := b.events[eventID]
	return e, ok
}

// Dispatch implements router.SkeletonHandler.
func (b *Backend) Dispatch(method wire.MethodID, payload []byte) ([]byte, wire.ReturnCode, bool) {
	fn, ok := b.methods[method]
	if !ok {
		return nil, wire.ReturnCodeUnknownMethodID, false
	}
	return fn(payload), 0, true
}

// Subscribe implements router.SkeletonHandler.
func (b *Backend) Subscribe(connID wire.ConnectionID, conn router.SkeletonConn, header wire.SubscribeHeader) {
	e, ok := b.events[header.Event]
	if !ok {
		conn.SendSubscribeNAck(header)
		return
	}
	skelConn, ok := conn.(*Connection)
	if !ok {
		// Only *Connection ever implements router.SkeletonConn in
		// production; a differently-typed caller (e.g. a test double) gets
		// the Ack/NAck behavior but is not added as a subscriber, so it
		// receives neither a field initial value nor later notifications.
		conn.SendSubscribeAck(header)
		return
	}
	e.Subscribe(connID, conn, header, skelConn)
}

// Unsubscribe implements router.SkeletonHandler.
func (b *Backend) Unsubscribe(connID wire.ConnectionID, eventID wire.EventID) {
	if e, ok := b.events[eventID]; ok {
		e.Unsubscribe(connID)
	}
}

// OnDisconnect implements router.SkeletonHandler.
func (b *Backend) OnDisconnect(connID wire.ConnectionID) {
	for _, e := range b.events {
		e.OnDisconnect(connID)
	}
}

// StopOffer clears every event's subscriber map.
func (b *Backend) StopOffer() {
	for _, e := range b.events {
		e.reset()
	}
}
