package router

import (
	"sync"

	"github.com/ara-ipc/binding/internal/wire"
)

// ProxyHandler is implemented by one proxy's dispatcher: the per-method
// future table and per-event subscriber callback that proxy.Connection
// feeds replies into.
type ProxyHandler interface {
	HandleResponse(msg *wire.Message)
	HandleErrorResponse(msg *wire.Message)
	HandleApplicationError(msg *wire.Message)
	HandleNotification(msg *wire.Message)
	HandleSubscribeAck(msg *wire.Message)
	HandleSubscribeNAck(msg *wire.Message)
}

// Both key types store the instance's WireKey, since the inbound headers
// being demultiplexed carry only the (service, instance, major) triple.
type proxyKey struct {
	Provided wire.ProvidedServiceInstanceID
	Client   wire.ClientID
}

type eventKey struct {
	Provided wire.ProvidedServiceInstanceID
	Event    wire.EventID
}

// ProxyRouterMapper demultiplexes inbound traffic on a single shared
// ProxyConnection. Request/response-shaped messages (Response,
// ErrorResponse, ApplicationError, SubscribeEventAck, SubscribeEventNAck)
// carry a client_id on the wire and are routed by (instance, client),
// since several proxies to the same instance share one connection.
// Notification carries no client_id: the skeleton-side event fan-out
// addresses it only to the subscribing connection, not to a particular
// client within that connection. Notifications therefore fan out to every
// local proxy handler that has subscribed to (instance, event) through
// this mapper.
type ProxyRouterMapper struct {
	mu       sync.RWMutex
	routers  map[proxyKey]ProxyHandler
	eventSubs map[eventKey]map[wire.ClientID]ProxyHandler
}

// NewProxyRouterMapper returns an empty mapper.
func NewProxyRouterMapper() *ProxyRouterMapper {
	return &ProxyRouterMapper{
		routers:   make(map[proxyKey]ProxyHandler),
		eventSubs: make(map[eventKey]map[wire.ClientID]ProxyHandler),
	}
}

// Register associates handler with (pid, clientID) for request/response
// traffic. A second Register for the same key replaces the prior handler;
// callers are expected to Release their old registration first (the
// mapper does not itself enforce uniqueness, unlike SkeletonRouter.Register).
func (m *ProxyRouterMapper) Register(pid wire.ProvidedServiceInstanceID, clientID wire.ClientID, handler ProxyHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routers[proxyKey{pid.WireKey(), clientID}] = handler
}

// ReleaseInstance drops every registration and event subscription for pid,
// across all client IDs. proxy.Manager.ReleaseRouterMapper is its only
// caller.
func (m *ProxyRouterMapper) ReleaseInstance(pid wire.ProvidedServiceInstanceID) {
	key := pid.WireKey()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.routers {
		if k.Provided == key {
			delete(m.routers, k)
		}
	}
	for k := range m.eventSubs {
		if k.Provided == key {
			delete(m.eventSubs, k)
		}
	}
}

// Release removes the registration for (pid, clientID), including any
// event subscriptions registered under it. Used when a single proxy
// (identified by clientID) goes away but others for the same instance may
// remain.
func (m *ProxyRouterMapper) Release(pid wire.ProvidedServiceInstanceID, clientID wire.ClientID) {
	key := pid.WireKey()
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.routers, proxyKey{key, clientID})
	for k, subs := range m.eventSubs {
		if k.Provided != key {
			continue
		}
		delete(subs, clientID)
		if len(subs) == 0 {
			delete(m.eventSubs, k)
		}
	}
}

// SubscribeEvent records that handler (for clientID) wants Notifications
// for (pid, eventID) fanned out to it. Called by ProxyConnection when the
// local application subscribes; this is purely local bookkeeping, separate
// from the SubscribeEvent message actually sent over the wire.
func (m *ProxyRouterMapper) SubscribeEvent(pid wire.ProvidedServiceInstanceID, eventID wire.EventID, clientID wire.ClientID, handler ProxyHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := eventKey{pid.WireKey(), eventID}
	subs, ok := m.eventSubs[k]
	if !ok {
		subs = make(map[wire.ClientID]ProxyHandler)
		m.eventSubs[k] = subs
	}
	subs[clientID] = handler
}

// UnsubscribeEvent reverses SubscribeEvent.
func (m *ProxyRouterMapper) UnsubscribeEvent(pid wire.ProvidedServiceInstanceID, eventID wire.EventID, clientID wire.ClientID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := eventKey{pid.WireKey(), eventID}
	subs, ok := m.eventSubs[k]
	if !ok {
		return
	}
	delete(subs, clientID)
	if len(subs) == 0 {
		delete(m.eventSubs, k)
	}
}

// Route demultiplexes one decoded message. It reports false if no local
// handler is registered for it, in which case the caller should log and
// drop the message (a stale reply for a proxy that has already released
// its registration is not a protocol violation).
func (m *ProxyRouterMapper) Route(msg *wire.Message) bool {
	if msg.Type == wire.MessageTypeNotification {
		return m.routeNotification(msg)
	}

	pid := msg.ProvidedInstance()
	clientID := clientOf(msg)

	m.mu.RLock()
	h, ok := m.routers[proxyKey{pid, clientID}]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	switch msg.Type {
	case wire.MessageTypeResponse:
		h.HandleResponse(msg)
	case wire.MessageTypeErrorResponse:
		h.HandleErrorResponse(msg)
	case wire.MessageTypeApplicationError:
		h.HandleApplicationError(msg)
	case wire.MessageTypeSubscribeEventAck:
		h.HandleSubscribeAck(msg)
	case wire.MessageTypeSubscribeEventNAck:
		h.HandleSubscribeNAck(msg)
	default:
		return false
	}
	return true
}

func (m *ProxyRouterMapper) routeNotification(msg *wire.Message) bool {
	k := eventKey{msg.Notify.ProvidedInstance(), msg.Notify.Event}
	m.mu.RLock()
	subs := make([]ProxyHandler, 0, len(m.eventSubs[k]))
	for _, h := range m.eventSubs[k] {
		subs = append(subs, h)
	}
	m.mu.RUnlock()
	if len(subs) == 0 {
		return false
	}
	for _, h := range subs {
		h.HandleNotification(msg)
	}
	return true
}

func clientOf(msg *wire.Message) wire.ClientID {
	switch {
	case msg.RRR != nil:
		return msg.RRR.Client
	case msg.Err != nil:
		return msg.Err.Client
	case msg.Sub != nil:
		return msg.Sub.Client
	default:
		return 0
	}
}
