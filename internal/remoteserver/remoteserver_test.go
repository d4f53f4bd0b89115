package remoteserver

import (
	"os"
	"testing"

	"github.com/ara-ipc/binding/internal/ipcsock"
	"github.com/ara-ipc/binding/internal/proxy"
	"github.com/ara-ipc/binding/internal/reactor"
	"github.com/ara-ipc/binding/internal/router"
	"github.com/ara-ipc/binding/internal/wire"
	"github.com/sammck-go/logger"
)

func newTestReactor(t *testing.T) reactor.Reactor {
	rx := reactor.NewGoReactor(16)
	t.Cleanup(rx.Stop)
	return rx
}

func newTestLogger(t *testing.T) logger.Logger {
	lg, err := logger.New(
		logger.WithWriter(os.Stderr),
		logger.WithLogLevel(logger.LogLevelDebug),
		logger.WithPrefix(t.Name()),
	)
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return lg
}

type noopStateHandler struct{}

func (noopStateHandler) OnConnected(wire.ProvidedServiceInstanceID)            {}
func (noopStateHandler) OnDisconnected(wire.ProvidedServiceInstanceID, error) {}

var testProvided = wire.ProvidedServiceInstanceID{Service: 1, Instance: 1, Major: 1}
var testRequired = wire.RequiredServiceInstanceID{Service: 1, Instance: wire.InstanceIDWildcard, Major: 1}
var testAddr = wire.IpcUnicastAddress{Domain: 1, Port: 1}

func TestRequestReleaseSingleton(t *testing.T) {
	lg := newTestLogger(t)
	pm := proxy.NewManager(lg, newTestReactor(t), t.TempDir())
	m := NewManager(lg, pm)
	mapper := router.NewProxyRouterMapper()

	rs1 := m.RequestRemoteServer(testProvided, testRequired, testAddr, ipcsock.IntegrityLevelMedium, noopStateHandler{}, mapper)
	rs2 := m.RequestRemoteServer(testProvided, testRequired, testAddr, ipcsock.IntegrityLevelMedium, noopStateHandler{}, mapper)
	if rs1 != rs2 {
		t.Fatal("expected the same shared RemoteServer instance")
	}
	if m.Count() != 1 {
		t.Fatalf("expected 1 entry, got %d", m.Count())
	}

	m.ReleaseRemoteServer(testProvided)
	if m.Count() != 1 {
		t.Fatalf("expected entry to survive one release out of two requests, got count %d", m.Count())
	}
	m.ReleaseRemoteServer(testProvided)
	if m.Count() != 0 {
		t.Fatalf("expected entry evicted after matching releases, got count %d", m.Count())
	}
}

func TestLookupAfterEviction(t *testing.T) {
	lg := newTestLogger(t)
	pm := proxy.NewManager(lg, newTestReactor(t), t.TempDir())
	m := NewManager(lg, pm)
	mapper := router.NewProxyRouterMapper()

	m.RequestRemoteServer(testProvided, testRequired, testAddr, ipcsock.IntegrityLevelMedium, noopStateHandler{}, mapper)
	m.ReleaseRemoteServer(testProvided)

	if _, ok := m.Lookup(testProvided); ok {
		t.Fatal("expected no entry after eviction")
	}
}
