// Package remoteserver implements the remote-server manager: a
// deduplicated, reference-counted handle per provided service instance,
// wired to the shared proxy connection for that instance's address.
package remoteserver

import (
	"sync"

	"github.com/ara-ipc/binding/internal/ipcsock"
	"github.com/ara-ipc/binding/internal/proxy"
	"github.com/ara-ipc/binding/internal/router"
	"github.com/ara-ipc/binding/internal/wire"
	"github.com/sammck-go/logger"
)

// RemoteServer is a shared handle on a required service instance: the
// required-instance descriptor, the provided instance it resolved to, and
// the proxy.Connection reachable through the owning Manager's
// proxy.Manager. A RemoteServer entry exists iff at least one proxy
// currently holds a reference to it.
type RemoteServer struct {
	Provided wire.ProvidedServiceInstanceID
	Required wire.RequiredServiceInstanceID
	Address  wire.IpcUnicastAddress
	Conn     *proxy.Connection

	mgr      *Manager
	refCount int
}

// Manager holds one entry per currently referenced provided instance,
// guarded by a single mutex.
type Manager struct {
	log      logger.Logger
	proxyMgr *proxy.Manager

	mu      sync.Mutex
	entries map[wire.ProvidedServiceInstanceID]*RemoteServer
}

// NewManager constructs a Manager wired to proxyMgr, which it calls into
// to obtain (and share) the underlying connection for each instance's
// address.
func NewManager(log logger.Logger, proxyMgr *proxy.Manager) *Manager {
	return &Manager{
		log:      log.ForkLogStr("remoteserver.Manager"),
		proxyMgr: proxyMgr,
		entries:  make(map[wire.ProvidedServiceInstanceID]*RemoteServer),
	}
}

// RequestRemoteServer returns the shared RemoteServer for provided,
// constructing one (and wiring it to the proxy connection manager for
// address) if this is the first request for it.
func (m *Manager) RequestRemoteServer(
	provided wire.ProvidedServiceInstanceID,
	required wire.RequiredServiceInstanceID,
	address wire.IpcUnicastAddress,
	integrityLevel ipcsock.IntegrityLevel,
	stateHandler proxy.StateChangeHandler,
	mapper *router.ProxyRouterMapper,
) *RemoteServer {
	m.mu.Lock()
	if rs, ok := m.entries[provided]; ok {
		rs.refCount++
		m.mu.Unlock()
		return rs
	}
	rs := &RemoteServer{Provided: provided, Required: required, Address: address, mgr: m, refCount: 1}
	m.entries[provided] = rs
	m.mu.Unlock()

	conn, _ := m.proxyMgr.Connect(stateHandler, address, integrityLevel, provided, mapper)
	rs.Conn = conn
	return rs
}

// ReleaseRemoteServer decrements provided's external reference count; once
// it reaches zero the entry is evicted and the underlying proxy connection
// registration is released. N requests cancelled by N releases always
// remove the entry.
func (m *Manager) ReleaseRemoteServer(provided wire.ProvidedServiceInstanceID) {
	m.mu.Lock()
	rs, ok := m.entries[provided]
	if !ok {
		m.mu.Unlock()
		return
	}
	rs.refCount--
	evict := rs.refCount <= 0
	if evict {
		delete(m.entries, provided)
	}
	m.mu.Unlock()

	if evict {
		m.proxyMgr.Disconnect(provided, rs.Address)
	}
}

// Lookup returns the currently shared RemoteServer for provided, if any,
// without affecting its reference count.
func (m *Manager) Lookup(provided wire.ProvidedServiceInstanceID) (*RemoteServer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.entries[provided]
	return rs, ok
}

// Count returns the number of currently referenced remote servers. Used by
// internal/diag to report live state.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Entries returns a snapshot of every currently referenced RemoteServer.
// Used by internal/diag to report live state.
func (m *Manager) Entries() []*RemoteServer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*RemoteServer, 0, len(m.entries))
	for _, rs := range m.entries {
		out = append(out, rs)
	}
	return out
}

// RefCount returns rs's current external reference count. Used by
// internal/diag to report live state.
func (rs *RemoteServer) RefCount() int {
	rs.mgr.mu.Lock()
	defer rs.mgr.mu.Unlock()
	return rs.refCount
}
