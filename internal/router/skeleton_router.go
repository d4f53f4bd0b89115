// Package router implements the packet router: the skeleton-side registry
// that dispatches decoded messages to the handler offering a given
// provided-service instance, and the proxy-side mapper that demultiplexes
// replies back to the right (instance, client) pair.
package router

import (
	"errors"
	"sync"

	"github.com/ara-ipc/binding/internal/wire"
)

// ErrAlreadyRegistered is returned by SkeletonRouter.Register when a
// handler is already registered for the given instance; it backs the
// duplicate-CreateServer check in internal/skeleton.
var ErrAlreadyRegistered = errors.New("router: provided instance already registered")

// SkeletonConn is the subset of a skeleton connection the router needs in
// order to answer a request or acknowledge a subscription. Kept as an
// interface here, rather than importing internal/skeleton, to avoid a
// package cycle: internal/skeleton imports router, not the reverse.
type SkeletonConn interface {
	SendResponse(h wire.RRRHeader, payload []byte)
	SendErrorResponse(h wire.RRRHeader, code wire.ReturnCode)
	SendApplicationError(h wire.RRRHeader, payload []byte)
	SendSubscribeAck(h wire.SubscribeHeader)
	SendSubscribeNAck(h wire.SubscribeHeader)
}

// SkeletonHandler is implemented by the backend behind one offered
// provided-service instance: the generated method dispatcher plus the
// event fan-out. Request/RequestNoReturn reach Dispatch;
// SubscribeEvent/UnsubscribeEvent reach Subscribe/Unsubscribe;
// OnDisconnect lets the event fan-out drop a dead subscriber entry.
type SkeletonHandler interface {
	// Dispatch invokes the method identified by method with payload. ok is
	// false if method is not recognized, in which case rc names the
	// return code to report (UnknownMethodId).
	Dispatch(method wire.MethodID, payload []byte) (resp []byte, rc wire.ReturnCode, ok bool)

	// Subscribe registers conn (identified by connID) as a subscriber of
	// the event named in header, sending the Ack/NAck and any field
	// initial value itself.
	Subscribe(connID wire.ConnectionID, conn SkeletonConn, header wire.SubscribeHeader)

	// Unsubscribe removes connID's subscription to eventID.
	Unsubscribe(connID wire.ConnectionID, eventID wire.EventID)

	// OnDisconnect removes every subscription held by connID, unconditionally.
	OnDisconnect(connID wire.ConnectionID)
}

// SkeletonRouter is the registry of SkeletonHandlers keyed by
// ProvidedServiceInstanceID. Entries are
// stored under the instance's WireKey, since inbound headers carry only the
// (service, instance, major) triple; a Register for an instance whose
// WireKey collides with an existing entry fails even when the Minor
// versions differ, because peers could never tell the two apart.
type SkeletonRouter struct {
	mu       sync.RWMutex
	handlers map[wire.ProvidedServiceInstanceID]SkeletonHandler
}

// New returns an empty SkeletonRouter.
func New() *SkeletonRouter {
	return &SkeletonRouter{handlers: make(map[wire.ProvidedServiceInstanceID]SkeletonHandler)}
}

// Register binds h as the handler for pid. Returns ErrAlreadyRegistered if
// pid already has a handler; skeleton.Manager relies on this for its
// duplicate-CreateServer check.
func (r *SkeletonRouter) Register(pid wire.ProvidedServiceInstanceID, h SkeletonHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pid.WireKey()
	if _, exists := r.handlers[key]; exists {
		return ErrAlreadyRegistered
	}
	r.handlers[key] = h
	return nil
}

// Unregister removes the handler for pid, if any.
func (r *SkeletonRouter) Unregister(pid wire.ProvidedServiceInstanceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, pid.WireKey())
}

// Lookup returns the handler registered for pid, if any.
func (r *SkeletonRouter) Lookup(pid wire.ProvidedServiceInstanceID) (SkeletonHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[pid.WireKey()]
	return h, ok
}

// Route dispatches one decoded message arriving on conn (identified by
// connID) to the handler registered for its provided instance. Routing
// misses materialize as an ErrorResponse for Request, a silently dropped
// packet (neither Route nor its caller logs it) for RequestNoReturn, and a SubscribeEventNAck for
// SubscribeEvent. Route only handles the message types the skeleton side
// is ever asked to dispatch; any other type is a protocol violation the
// calling connection must have already rejected.
func (r *SkeletonRouter) Route(connID wire.ConnectionID, conn SkeletonConn, msg *wire.Message) {
	switch msg.Type {
	case wire.MessageTypeRequest, wire.MessageTypeRequestNoReturn:
		r.routeRequest(conn, msg)
	case wire.MessageTypeSubscribeEvent:
		r.routeSubscribe(connID, conn, msg)
	case wire.MessageTypeUnsubscribeEvent:
		r.routeUnsubscribe(connID, msg)
	}
}

func (r *SkeletonRouter) routeRequest(conn SkeletonConn, msg *wire.Message) {
	wantsReply := msg.Type == wire.MessageTypeRequest
	pid := msg.RRR.ProvidedInstance()
	h, ok := r.Lookup(pid)
	if !ok {
		if wantsReply {
			conn.SendErrorResponse(*msg.RRR, r.missCode(pid.Service))
		}
		return
	}
	resp, rc, ok := h.Dispatch(msg.RRR.Method, msg.Payload)
	if !ok {
		if wantsReply {
			conn.SendErrorResponse(*msg.RRR, rc)
		}
		return
	}
	if wantsReply {
		conn.SendResponse(*msg.RRR, resp)
	}
}

// missCode picks the return code for a lookup miss: UnknownServiceId when
// no registered instance belongs to service at all, UnknownInstanceId when
// the service exists but not this instance/version of it.
func (r *SkeletonRouter) missCode(service wire.ServiceID) wire.ReturnCode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for pid := range r.handlers {
		if pid.Service == service {
			return wire.ReturnCodeUnknownInstanceID
		}
	}
	return wire.ReturnCodeUnknownServiceID
}

func (r *SkeletonRouter) routeSubscribe(connID wire.ConnectionID, conn SkeletonConn, msg *wire.Message) {
	pid := msg.Sub.ProvidedInstance()
	h, ok := r.Lookup(pid)
	if !ok {
		conn.SendSubscribeNAck(*msg.Sub)
		return
	}
	h.Subscribe(connID, conn, *msg.Sub)
}

func (r *SkeletonRouter) routeUnsubscribe(connID wire.ConnectionID, msg *wire.Message) {
	pid := msg.Sub.ProvidedInstance()
	h, ok := r.Lookup(pid)
	if !ok {
		return
	}
	h.Unsubscribe(connID, msg.Sub.Event)
}

// OnDisconnect tells every registered handler that connID has
// disconnected. Called when a skeleton connection is torn down, so each
// event fan-out's subscriber map sheds the dead entry.
func (r *SkeletonRouter) OnDisconnect(connID wire.ConnectionID) {
	r.mu.RLock()
	handlers := make([]SkeletonHandler, 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()
	for _, h := range handlers {
		h.OnDisconnect(connID)
	}
}
