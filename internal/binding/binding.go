// Package binding assembles the skeleton manager, proxy manager, routers,
// remote-server manager and an injected service-discovery implementation
// into one initialized unit with a single construct/deinitialize
// lifecycle.
package binding

import (
	"fmt"
	"sync"

	"github.com/ara-ipc/binding/internal/discovery"
	"github.com/ara-ipc/binding/internal/ipcsock"
	"github.com/ara-ipc/binding/internal/proxy"
	"github.com/ara-ipc/binding/internal/reactor"
	"github.com/ara-ipc/binding/internal/remoteserver"
	"github.com/ara-ipc/binding/internal/router"
	"github.com/ara-ipc/binding/internal/skeleton"
	"github.com/ara-ipc/binding/internal/wire"
	"github.com/sammck-go/logger"
)

// Config is the minimal set of inputs Initialize needs beyond the injected
// service-discovery implementation. internal/config.RuntimeConfig supplies
// these fields from a loaded/watched configuration file; Binding itself
// stays agnostic of how they were produced.
type Config struct {
	// BaseDir is the directory both the skeleton manager binds sockets in
	// and the proxy manager dials sockets from. Must match between the two
	// for a CreateServer/Connect pair targeting the same address to find
	// each other.
	BaseDir string
}

// Binding wraps the reactor, the skeleton and proxy managers, the routers,
// the remote-server manager and the consumed discovery.Interface.
// Construct with New, tear down with Deinitialize exactly once.
type Binding struct {
	log       logger.Logger
	rx        reactor.Reactor
	discovery discovery.Interface

	skeletonRouter *router.SkeletonRouter
	proxyMapper    *router.ProxyRouterMapper
	skeletonMgr    *skeleton.Manager
	proxyMgr       *proxy.Manager
	remoteMgr      *remoteserver.Manager

	mu         sync.Mutex
	deinitDone bool
}

// New assembles the managers around the caller's reactor and wires them to
// disc, but does not yet bind or dial anything. rx is the reactor every
// manager shares: connection state-change callbacks and deferred
// connection teardown run as tasks on it.
func New(log logger.Logger, cfg Config, disc discovery.Interface, rx reactor.Reactor) *Binding {
	lg := log.ForkLogStr("binding")
	r := router.New()
	mapper := router.NewProxyRouterMapper()
	skeletonMgr := skeleton.NewManager(lg, rx, r, cfg.BaseDir)
	proxyMgr := proxy.NewManager(lg, rx, cfg.BaseDir)
	remoteMgr := remoteserver.NewManager(lg, proxyMgr)

	return &Binding{
		log:            lg,
		rx:             rx,
		discovery:      disc,
		skeletonRouter: r,
		proxyMapper:    mapper,
		skeletonMgr:    skeletonMgr,
		proxyMgr:       proxyMgr,
		remoteMgr:      remoteMgr,
	}
}

// OfferService brings up a Server for provided at address, registers h as
// its SkeletonRouter entry, and announces the offer via the injected
// discovery.Interface. Both steps are undone together by WithdrawService.
func (b *Binding) OfferService(address wire.IpcUnicastAddress, provided wire.ProvidedServiceInstanceID, integrityLevel ipcsock.IntegrityLevel, h router.SkeletonHandler) (*skeleton.Server, error) {
	srv, err := b.skeletonMgr.CreateServer(address, provided, integrityLevel, h)
	if err != nil {
		return nil, err
	}
	if err := b.discovery.Offer(provided, address, integrityLevel); err != nil {
		b.skeletonMgr.DisconnectServer(provided)
		return nil, fmt.Errorf("binding: discovery offer failed: %w", err)
	}
	return srv, nil
}

// WithdrawService reverses OfferService.
func (b *Binding) WithdrawService(provided wire.ProvidedServiceInstanceID) error {
	if err := b.discovery.StopOffer(provided); err != nil {
		b.log.WLogf("discovery StopOffer(%s): %s", provided, err)
	}
	return b.skeletonMgr.DisconnectServer(provided)
}

// requiredServiceResolver resolves a required instance to a concrete
// provided instance via the injected discovery find subscription and wires
// a RemoteServer for it once found, delivering subsequent connection
// lifecycle events to stateHandler.
//
// This is a single-match binding: the first matching provided instance
// found wins. Arbitration among multiple concurrent providers for the
// same requirement is an application concern, not handled here.
type requiredServiceResolver struct {
	b            *Binding
	required     wire.RequiredServiceInstanceID
	integrity    ipcsock.IntegrityLevel
	stateHandler proxy.StateChangeHandler

	mu       sync.Mutex
	resolved *remoteserver.RemoteServer
}

func (r *requiredServiceResolver) OnFind(provided wire.ProvidedServiceInstanceID, address wire.IpcUnicastAddress, integrityLevel ipcsock.IntegrityLevel) {
	r.mu.Lock()
	if r.resolved != nil {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	effective := integrityLevel
	if r.integrity > effective {
		effective = r.integrity
	}
	rs := r.b.remoteMgr.RequestRemoteServer(provided, r.required, address, effective, r.stateHandler, r.b.proxyMapper)

	r.mu.Lock()
	r.resolved = rs
	r.mu.Unlock()
}

func (r *requiredServiceResolver) OnStopFind(provided wire.ProvidedServiceInstanceID) {
	r.mu.Lock()
	resolved := r.resolved
	if resolved != nil && resolved.Provided == provided {
		r.resolved = nil
	}
	r.mu.Unlock()

	if resolved != nil && resolved.Provided == provided {
		r.b.remoteMgr.ReleaseRemoteServer(provided)
	}
}

// RequestRequiredService subscribes to discovery for required and resolves
// the first match into a shared RemoteServer, as described above.
func (b *Binding) RequestRequiredService(required wire.RequiredServiceInstanceID, minimumIntegrity ipcsock.IntegrityLevel, stateHandler proxy.StateChangeHandler) (*requiredServiceResolver, error) {
	r := &requiredServiceResolver{b: b, required: required, integrity: minimumIntegrity, stateHandler: stateHandler}
	if err := b.discovery.SubscribeFind(required, r); err != nil {
		return nil, fmt.Errorf("binding: discovery subscribe failed: %w", err)
	}
	return r, nil
}

// ReleaseRequiredService reverses RequestRequiredService.
func (b *Binding) ReleaseRequiredService(r *requiredServiceResolver) error {
	if err := b.discovery.UnsubscribeFind(r.required, r); err != nil {
		b.log.WLogf("discovery UnsubscribeFind(%s): %s", r.required, err)
	}
	r.mu.Lock()
	resolved := r.resolved
	r.resolved = nil
	r.mu.Unlock()
	if resolved != nil {
		b.remoteMgr.ReleaseRemoteServer(resolved.Provided)
	}
	return nil
}

// ProxyManager exposes the proxy connection manager for callers that need
// to drive a proxy.Connection directly (e.g. constructing a proxy object
// once a RemoteServer resolves).
func (b *Binding) ProxyManager() *proxy.Manager { return b.proxyMgr }

// RouterMapper exposes the proxy-facing router for registering per-client
// reply handlers.
func (b *Binding) RouterMapper() *router.ProxyRouterMapper { return b.proxyMapper }

// RemoteServerManager exposes the remote-server manager directly, for
// callers that manage required-service resolution themselves rather than
// through RequestRequiredService.
func (b *Binding) RemoteServerManager() *remoteserver.Manager { return b.remoteMgr }

// Deinitialize requires that the caller's reactor has already stopped
// driving this Binding. It closes every acceptor and connection in
// dependency order, proxy side first, then the skeleton side, waiting for
// each socket to fall out of use, and is idempotent: a second call is a
// no-op.
func (b *Binding) Deinitialize() error {
	b.mu.Lock()
	if b.deinitDone {
		b.mu.Unlock()
		return nil
	}
	b.deinitDone = true
	b.mu.Unlock()

	b.proxyMgr.Close()
	b.skeletonMgr.Close()
	// The remote-server manager holds no sockets of its own: every
	// underlying connection it references is already torn down by the
	// proxy manager's Close above, so it needs no teardown step of its own
	// and is dropped along with this Binding. The routers are pure in-memory bookkeeping
	// with no teardown of their own; they are simply dropped along with
	// this Binding.
	return nil
}
