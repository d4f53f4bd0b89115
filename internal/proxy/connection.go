// Package proxy implements the client side of the binding: the
// per-server-address connection state machine and the manager that shares
// one connection across every required instance that targets the same
// address.
package proxy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ara-ipc/binding/internal/handler"
	"github.com/ara-ipc/binding/internal/ids"
	"github.com/ara-ipc/binding/internal/ipcsock"
	"github.com/ara-ipc/binding/internal/reactor"
	"github.com/ara-ipc/binding/internal/router"
	"github.com/ara-ipc/binding/internal/wire"
	"github.com/sammck-go/logger"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	default:
		return "Disconnected"
	}
}

// StateChangeHandler is notified of connection lifecycle transitions for
// the provided instance it registered under.
type StateChangeHandler interface {
	OnConnected(provided wire.ProvidedServiceInstanceID)
	OnDisconnected(provided wire.ProvidedServiceInstanceID, reason error)
}

// Connection is the proxy-side connection to one server address, shared
// among every required instance that resolved to that address.
type Connection struct {
	addr   wire.IpcUnicastAddress
	path   string
	mapper *router.ProxyRouterMapper
	mgr    *Manager
	rx     reactor.Reactor
	log    logger.Logger

	mu        sync.Mutex
	state     State
	integrity ipcsock.IntegrityLevel
	handlers  map[wire.ProvidedServiceInstanceID]StateChangeHandler
	mh        *handler.MessageHandler
}

func newConnection(log logger.Logger, rx reactor.Reactor, addr wire.IpcUnicastAddress, path string, mapper *router.ProxyRouterMapper, mgr *Manager) *Connection {
	return &Connection{
		addr:     addr,
		path:     path,
		mapper:   mapper,
		mgr:      mgr,
		rx:       rx,
		log:      log.ForkLogStr(fmt.Sprintf("proxyconn(%s)", path)),
		handlers: make(map[wire.ProvidedServiceInstanceID]StateChangeHandler),
	}
}

// Connect registers h as the state-change handler for provided and returns
// the connection's current state, kicking off a dial if none is in flight.
func (c *Connection) Connect(provided wire.ProvidedServiceInstanceID, h StateChangeHandler) State {
	c.mu.Lock()
	c.handlers[provided] = h
	state := c.state

	switch state {
	case StateConnected:
		c.mu.Unlock()
		// OnConnected must still fire for this handler even though the
		// connection is already up, so late subscribers see the event.
		// Delivered as a reactor task, off this call's stack.
		c.rx.Post(func(reactor.Context) { h.OnConnected(provided) })
		return StateConnected
	case StateConnecting:
		c.mu.Unlock()
		return StateConnecting
	default:
		// Disconnected, whether never-yet-dialed or retried after a prior
		// failure: no dial is in flight, so start one regardless of
		// whether this provided instance had registered before.
		c.state = StateConnecting
		c.mu.Unlock()
		go c.dial()
		return StateConnecting
	}
}

// setMinimumIntegrity raises (never lowers) the integrity floor the next
// dial demands of its peer. Shared connections keep the strictest floor any
// required instance asked for.
func (c *Connection) setMinimumIntegrity(level ipcsock.IntegrityLevel) {
	c.mu.Lock()
	if level > c.integrity {
		c.integrity = level
	}
	c.mu.Unlock()
}

// Disconnect unregisters h's provided instance; once no handler remains
// registered, the socket is closed.
func (c *Connection) Disconnect(provided wire.ProvidedServiceInstanceID) {
	c.mu.Lock()
	delete(c.handlers, provided)
	empty := len(c.handlers) == 0
	mh := c.mh
	c.mu.Unlock()

	if empty {
		if mh != nil {
			mh.StartShutdown(nil)
		}
		c.mgr.forget(c)
	}
}

func (c *Connection) dial() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := ipcsock.DialUnix(ctx, c.log, c.path)
	if err != nil {
		c.transitionDisconnected(err)
		return
	}

	c.mu.Lock()
	minimum := c.integrity
	c.mu.Unlock()
	if !conn.CheckPeerIntegrityLevel(minimum) {
		conn.Close()
		c.transitionDisconnected(ipcsock.ConnectErrInsufficientPrivileges)
		return
	}

	mh := handler.New(c.log, conn)
	mh.OnMessage = c.onMessage
	mh.OnError = c.onError

	c.mu.Lock()
	c.mh = mh
	c.state = StateConnected
	handlers := c.snapshotHandlers()
	c.mu.Unlock()

	mh.Start()
	c.rx.Post(func(reactor.Context) {
		for provided, h := range handlers {
			h.OnConnected(provided)
		}
	})
}

func (c *Connection) onMessage(msg *wire.Message) {
	if !c.mapper.Route(msg) {
		c.log.DLogf("dropped %s message with no registered local handler", msg.Type)
	}
}

func (c *Connection) onError(err error) {
	c.transitionDisconnected(err)
	c.mgr.forget(c)
}

// transitionDisconnected drops to Disconnected and fires OnDisconnected
// for every registered handler exactly once, as a reactor task, so state
// handlers observe connection loss serialized with all other reactor work.
func (c *Connection) transitionDisconnected(reason error) {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mh = nil
	handlers := c.snapshotHandlers()
	c.mu.Unlock()

	c.rx.Post(func(reactor.Context) {
		for provided, h := range handlers {
			h.OnDisconnected(provided, reason)
		}
	})
}

func (c *Connection) snapshotHandlers() map[wire.ProvidedServiceInstanceID]StateChangeHandler {
	out := make(map[wire.ProvidedServiceInstanceID]StateChangeHandler, len(c.handlers))
	for k, v := range c.handlers {
		out[k] = v
	}
	return out
}

func (c *Connection) currentHandler() *handler.MessageHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mh
}

// State returns the connection's current lifecycle state. Used by
// internal/diag to report live state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Address returns the server address this Connection talks to.
func (c *Connection) Address() wire.IpcUnicastAddress { return c.addr }

// RefCount returns the number of provided instances currently registered
// against this Connection.
func (c *Connection) RefCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// SendRequest transmits a Request. It returns false (packet dropped) if no
// connection is currently up, or the handler has entered its terminal
// Error state.
func (c *Connection) SendRequest(h wire.RRRHeader, payload []byte) bool {
	return c.send(&wire.Message{Type: wire.MessageTypeRequest, RRR: &h, Payload: payload})
}

// SendRequestNoReturn transmits a fire-and-forget RequestNoReturn.
func (c *Connection) SendRequestNoReturn(h wire.RRRHeader, payload []byte) bool {
	return c.send(&wire.Message{Type: wire.MessageTypeRequestNoReturn, RRR: &h, Payload: payload})
}

// SubscribeEvent registers clientID's local ProxyHandler for event
// fan-out and sends the SubscribeEvent message over the wire.
func (c *Connection) SubscribeEvent(provided wire.ProvidedServiceInstanceID, eventID wire.EventID, clientID wire.ClientID, ph router.ProxyHandler) bool {
	c.mapper.SubscribeEvent(provided, eventID, clientID, ph)
	return c.send(&wire.Message{
		Type: wire.MessageTypeSubscribeEvent,
		Sub:  &wire.SubscribeHeader{Service: provided.Service, Instance: provided.Instance, Major: provided.Major, Event: eventID, Client: clientID},
	})
}

// UnsubscribeEvent reverses SubscribeEvent.
func (c *Connection) UnsubscribeEvent(provided wire.ProvidedServiceInstanceID, eventID wire.EventID, clientID wire.ClientID) bool {
	c.mapper.UnsubscribeEvent(provided, eventID, clientID)
	return c.send(&wire.Message{
		Type: wire.MessageTypeUnsubscribeEvent,
		Sub:  &wire.SubscribeHeader{Service: provided.Service, Instance: provided.Instance, Major: provided.Major, Event: eventID, Client: clientID},
	})
}

// send enqueues msg on the producer's thread and kicks the pipeline from a
// reactor task, so the socket attempt never runs on an application stack.
// Reports false when no usable connection is up (packet dropped).
func (c *Connection) send(msg *wire.Message) bool {
	mh := c.currentHandler()
	if mh == nil || mh.IsDoneShutdown() {
		return false
	}
	mh.AddToSendQueue(wire.Encode(msg))
	c.rx.Post(func(reactor.Context) { mh.SendQueued() })
	return true
}

// AllocateClientID returns a fresh process-wide ClientID for a new proxy
// object talking through this connection.
func AllocateClientID() wire.ClientID {
	return ids.DefaultClientIDs.Allocate()
}

func (c *Connection) String() string {
	return fmt.Sprintf("proxy.Connection(%s)", c.path)
}
