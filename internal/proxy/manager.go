package proxy

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ara-ipc/binding/internal/ipcsock"
	"github.com/ara-ipc/binding/internal/reactor"
	"github.com/ara-ipc/binding/internal/router"
	"github.com/ara-ipc/binding/internal/wire"
	"github.com/sammck-go/logger"
)

// Manager is the proxy connection manager: it keeps at most one Connection
// per IpcUnicastAddress, shared across every required instance that
// resolves to that address. Connection state-change callbacks are
// delivered as tasks on rx, the reactor every manager in one binding
// instance shares.
type Manager struct {
	log     logger.Logger
	rx      reactor.Reactor
	baseDir string

	mu    sync.Mutex
	conns map[wire.IpcUnicastAddress]*Connection
}

// NewManager constructs a Manager. baseDir must match the directory
// internal/skeleton.Manager binds its Unix domain sockets in.
func NewManager(log logger.Logger, rx reactor.Reactor, baseDir string) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &Manager{
		log:     log.ForkLogStr("proxy.Manager"),
		rx:      rx,
		baseDir: baseDir,
		conns:   make(map[wire.IpcUnicastAddress]*Connection),
	}
}

// SocketPath returns the Unix domain socket path this Manager dials for addr.
func (m *Manager) SocketPath(addr wire.IpcUnicastAddress) string {
	return filepath.Join(m.baseDir, fmt.Sprintf("ara-ipc-%d-%d.sock", addr.Domain, addr.Port))
}

// Connect returns (creating if necessary) the shared Connection for
// address and registers h as its state-change handler for provided.
func (m *Manager) Connect(h StateChangeHandler, address wire.IpcUnicastAddress, integrityLevel ipcsock.IntegrityLevel, provided wire.ProvidedServiceInstanceID, mapper *router.ProxyRouterMapper) (*Connection, State) {
	m.mu.Lock()
	c, ok := m.conns[address]
	if !ok {
		c = newConnection(m.log, m.rx, address, m.SocketPath(address), mapper, m)
		m.conns[address] = c
	}
	m.mu.Unlock()
	c.setMinimumIntegrity(integrityLevel)
	return c, c.Connect(provided, h)
}

// Connections returns a snapshot of every currently tracked Connection.
// Used by internal/diag to report live state.
func (m *Manager) Connections() []*Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	return out
}

// Disconnect unregisters provided's handler from the Connection serving
// address, if any.
func (m *Manager) Disconnect(provided wire.ProvidedServiceInstanceID, address wire.IpcUnicastAddress) {
	m.mu.Lock()
	c, ok := m.conns[address]
	m.mu.Unlock()
	if ok {
		c.Disconnect(provided)
	}
}

// ReleaseRouterMapper drops every local routing registration for provided
// from mapper, so stale entries don't accumulate across reconnects. It is
// not called automatically: remoteserver's release path only disconnects,
// and leaves mapper's registrations in place.
func (m *Manager) ReleaseRouterMapper(mapper *router.ProxyRouterMapper, provided wire.ProvidedServiceInstanceID) {
	mapper.ReleaseInstance(provided)
}

// forget is the disconnect back-edge: a Connection calls this on itself
// once its socket has failed, so the Manager stops handing it out for new
// Connect calls and a subsequent Connect dials fresh.
func (m *Manager) forget(c *Connection) {
	m.mu.Lock()
	if cur, ok := m.conns[c.addr]; ok && cur == c {
		delete(m.conns, c.addr)
	}
	m.mu.Unlock()
}

// Close tears down every active Connection. The binding's deinitialize
// sequence runs this before the skeleton side's teardown.
func (m *Manager) Close() {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.conns = make(map[wire.IpcUnicastAddress]*Connection)
	m.mu.Unlock()

	for _, c := range conns {
		mh := c.currentHandler()
		if mh != nil {
			mh.StartShutdown(nil)
		}
	}
	for _, c := range conns {
		mh := c.currentHandler()
		if mh != nil {
			mh.WaitShutdown()
		}
	}
}
