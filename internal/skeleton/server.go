package skeleton

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ara-ipc/binding/internal/ipcsock"
	"github.com/ara-ipc/binding/internal/reactor"
	"github.com/ara-ipc/binding/internal/router"
	"github.com/ara-ipc/binding/internal/wire"
	"github.com/sammck-go/logger"
)

// CreateServerError enumerates the failure modes of Manager.CreateServer.
type CreateServerError int

const (
	CreateServerErrOK CreateServerError = iota
	CreateServerErrNotOK
	CreateServerErrUnexpected
	CreateServerErrDisconnected
	CreateServerErrInsufficientPrivileges
	CreateServerErrAddressNotAvailable
	CreateServerErrResource
	CreateServerErrSystemEnvironmentError
)

func (e CreateServerError) Error() string {
	switch e {
	case CreateServerErrNotOK:
		return "error_not_ok"
	case CreateServerErrUnexpected:
		return "unexpected"
	case CreateServerErrDisconnected:
		return "disconnected"
	case CreateServerErrInsufficientPrivileges:
		return "insufficient privileges"
	case CreateServerErrAddressNotAvailable:
		return "address not available"
	case CreateServerErrResource:
		return "resource exhausted"
	case CreateServerErrSystemEnvironmentError:
		return "system environment error"
	default:
		return "ok"
	}
}

// ErrNotOK is returned when CreateServer is called twice for the same
// provided instance without an intervening DisconnectServer.
var ErrNotOK = CreateServerErrNotOK

// Server is created per (address, provided instance, integrity level) and
// exists while that provided instance is offered. It owns an Acceptor and
// the set of currently connected skeleton Connections.
type Server struct {
	Address   wire.IpcUnicastAddress
	Provided  wire.ProvidedServiceInstanceID
	Integrity ipcsock.IntegrityLevel

	acceptor *Acceptor
	router   *router.SkeletonRouter
	rx       reactor.Reactor
	log      logger.Logger

	mu    sync.Mutex
	conns map[wire.ConnectionID]*Connection
}

func (s *Server) dropConnection(c *Connection) {
	s.mu.Lock()
	delete(s.conns, c.ID())
	s.mu.Unlock()
}

// scheduleDrop tears c down as a deferred reactor task. A Connection whose
// socket callback reported a fatal error must never be destroyed from
// inside that callback frame; the posted task runs after the callback has
// returned.
func (s *Server) scheduleDrop(c *Connection) {
	s.rx.Post(func(reactor.Context) {
		s.router.OnDisconnect(c.ID())
		s.dropConnection(c)
		c.conn.Close()
	})
}

// Connections returns a snapshot of currently connected skeleton Connections.
func (s *Server) Connections() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) run() {
	for conn := range s.acceptor.Conns() {
		if !conn.CheckPeerIntegrityLevel(s.Integrity) {
			s.log.WLogf("rejecting peer below integrity level %d", s.Integrity)
			conn.Close()
			continue
		}
		c := newConnection(s.log, s, conn, s.router)
		s.mu.Lock()
		s.conns[c.ID()] = c
		s.mu.Unlock()
		c.Start()
	}
}

// close tears down the Acceptor and every connected Connection, waiting
// for IsInUse to clear on each before returning.
func (s *Server) close() {
	s.acceptor.StartShutdown(nil)
	s.acceptor.WaitShutdown()
	for _, c := range s.Connections() {
		c.Close()
	}
	for _, c := range s.Connections() {
		for c.IsInUse() {
			time.Sleep(time.Millisecond)
		}
	}
}

// Manager is the skeleton connection manager: it holds every active
// Server, keyed by the provided instance it offers. Operations are
// serialized with a mutex rather than by requiring a single calling
// goroutine, so any application thread may offer or withdraw; deferred
// teardown work still runs on the shared reactor.
type Manager struct {
	log     logger.Logger
	rx      reactor.Reactor
	router  *router.SkeletonRouter
	baseDir string

	mu      sync.Mutex
	servers map[wire.ProvidedServiceInstanceID]*Server
}

// NewManager constructs a Manager. baseDir names the directory in which
// per-instance Unix domain sockets are created; an empty baseDir uses
// os.TempDir().
func NewManager(log logger.Logger, rx reactor.Reactor, r *router.SkeletonRouter, baseDir string) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &Manager{
		log:     log.ForkLogStr("skeleton.Manager"),
		rx:      rx,
		router:  r,
		baseDir: baseDir,
		servers: make(map[wire.ProvidedServiceInstanceID]*Server),
	}
}

// SocketPath returns the Unix domain socket path this Manager binds for addr.
func (m *Manager) SocketPath(addr wire.IpcUnicastAddress) string {
	return filepath.Join(m.baseDir, fmt.Sprintf("ara-ipc-%d-%d.sock", addr.Domain, addr.Port))
}

// CreateServer offers provided at address with the given handler (normally
// a *Backend) registered as the SkeletonRouter entry for provided. Returns
// ErrNotOK if provided is already offered.
func (m *Manager) CreateServer(address wire.IpcUnicastAddress, provided wire.ProvidedServiceInstanceID, integrityLevel ipcsock.IntegrityLevel, h router.SkeletonHandler) (*Server, error) {
	m.mu.Lock()
	if _, exists := m.servers[provided]; exists {
		m.mu.Unlock()
		return nil, ErrNotOK
	}
	// Reserve the slot before releasing the lock, so two concurrent
	// CreateServer calls for the same instance can't both proceed past the
	// router.Register race below.
	m.servers[provided] = nil
	m.mu.Unlock()

	if err := m.router.Register(provided, h); err != nil {
		m.mu.Lock()
		delete(m.servers, provided)
		m.mu.Unlock()
		return nil, ErrNotOK
	}

	path := m.SocketPath(address)
	acc := NewAcceptor(m.log, path)
	if err := acc.Init(); err != nil {
		m.router.Unregister(provided)
		m.mu.Lock()
		delete(m.servers, provided)
		m.mu.Unlock()
		return nil, classifyBindError(err)
	}

	srv := &Server{
		Address:   address,
		Provided:  provided,
		Integrity: integrityLevel,
		acceptor:  acc,
		router:    m.router,
		rx:        m.rx,
		log:       m.log,
		conns:     make(map[wire.ConnectionID]*Connection),
	}
	go srv.run()

	m.mu.Lock()
	m.servers[provided] = srv
	m.mu.Unlock()
	return srv, nil
}

// DisconnectServer stops offering provided: closes its Acceptor and every
// connected Connection, and removes its SkeletonRouter registration.
func (m *Manager) DisconnectServer(provided wire.ProvidedServiceInstanceID) error {
	m.mu.Lock()
	srv, ok := m.servers[provided]
	delete(m.servers, provided)
	m.mu.Unlock()
	if !ok || srv == nil {
		return errors.New("skeleton: no server offering this instance")
	}
	m.router.Unregister(provided)
	srv.close()
	return nil
}

// Lookup returns the Server currently offering provided, if any.
func (m *Manager) Lookup(provided wire.ProvidedServiceInstanceID) (*Server, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[provided]
	return s, ok && s != nil
}

// Servers returns a snapshot of every currently offered Server. Used by
// internal/diag to report live state.
func (m *Manager) Servers() []*Server {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Server, 0, len(m.servers))
	for _, s := range m.servers {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Close tears down every active Server. Part of the binding's
// deinitialize sequence.
func (m *Manager) Close() {
	m.mu.Lock()
	servers := make([]*Server, 0, len(m.servers))
	for _, s := range m.servers {
		if s != nil {
			servers = append(servers, s)
		}
	}
	m.servers = make(map[wire.ProvidedServiceInstanceID]*Server)
	m.mu.Unlock()

	for _, s := range servers {
		m.router.Unregister(s.Provided)
		s.close()
	}
}

func classifyBindError(err error) error {
	if os.IsPermission(err) {
		return CreateServerErrInsufficientPrivileges
	}
	return CreateServerErrAddressNotAvailable
}
