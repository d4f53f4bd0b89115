package proxy

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ara-ipc/binding/internal/ipcsock"
	"github.com/ara-ipc/binding/internal/reactor"
	"github.com/ara-ipc/binding/internal/router"
	skel "github.com/ara-ipc/binding/internal/skeleton"
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

var testAddr = wire.IpcUnicastAddress{Domain: 10, Port: 1000}
var testPID = wire.ProvidedServiceInstanceID{Service: 7, Instance: 3, Major: 1}

type stateRecorder struct {
	mu          sync.Mutex
	connected   int
	disconnects []error
	connWG      sync.WaitGroup
	discWG      sync.WaitGroup
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{}
}

func (r *stateRecorder) OnConnected(provided wire.ProvidedServiceInstanceID) {
	r.mu.Lock()
	r.connected++
	r.mu.Unlock()
	r.connWG.Done()
}

func (r *stateRecorder) OnDisconnected(provided wire.ProvidedServiceInstanceID, reason error) {
	r.mu.Lock()
	r.disconnects = append(r.disconnects, reason)
	r.mu.Unlock()
	r.discWG.Done()
}

type replyHandler struct {
	wg   sync.WaitGroup
	last *wire.Message
}

func (h *replyHandler) HandleResponse(msg *wire.Message)         { h.last = msg; h.wg.Done() }
func (h *replyHandler) HandleErrorResponse(msg *wire.Message)    { h.last = msg; h.wg.Done() }
func (h *replyHandler) HandleApplicationError(msg *wire.Message) {}
func (h *replyHandler) HandleNotification(msg *wire.Message)     { h.last = msg; h.wg.Done() }
func (h *replyHandler) HandleSubscribeAck(msg *wire.Message)     { h.last = msg; h.wg.Done() }
func (h *replyHandler) HandleSubscribeNAck(msg *wire.Message)    { h.last = msg; h.wg.Done() }

func startTestServer(t *testing.T, lg logger.Logger, dir string) (*skel.Manager, *skel.Backend) {
	t.Helper()
	r := router.New()
	mgr := skel.NewManager(lg, newTestReactor(t), r, dir)
	backend := skel.NewBackend(testPID)
	backend.RegisterMethod(5, func(payload []byte) []byte { return []byte{0xBE, 0xEF} })
	if _, err := mgr.CreateServer(testAddr, testPID, ipcsock.IntegrityLevelMedium, backend); err != nil {
		t.Fatalf("CreateServer: %v", err)
	}
	return mgr, backend
}

func TestConnectAndSendRequest(t *testing.T) {
	lg := newTestLogger(t)
	dir := t.TempDir()
	skelMgr, _ := startTestServer(t, lg, dir)
	defer skelMgr.Close()

	mgr := NewManager(lg, newTestReactor(t), dir)
	mapper := router.NewProxyRouterMapper()
	rec := newStateRecorder()
	rec.connWG.Add(1)

	conn, state := mgr.Connect(rec, testAddr, ipcsock.IntegrityLevelMedium, testPID, mapper)
	if state != StateConnecting {
		t.Fatalf("expected Connecting on first Connect, got %s", state)
	}
	waitOrTimeout(t, &rec.connWG, time.Second)

	clientID := AllocateClientID()
	rh := &replyHandler{}
	rh.wg.Add(1)
	mapper.Register(testPID, clientID, rh)

	ok := conn.SendRequest(wire.RRRHeader{Service: testPID.Service, Instance: testPID.Instance, Major: testPID.Major, Method: 5, Client: clientID, Session: 1}, []byte{0xDE, 0xAD})
	if !ok {
		t.Fatal("SendRequest returned false")
	}
	waitOrTimeout(t, &rh.wg, time.Second)
	if rh.last.Type != wire.MessageTypeResponse {
		t.Fatalf("expected Response, got %s", rh.last.Type)
	}
}

func TestDuplicateConnectReturnsConnectedAndFiresOnConnected(t *testing.T) {
	lg := newTestLogger(t)
	dir := t.TempDir()
	skelMgr, _ := startTestServer(t, lg, dir)
	defer skelMgr.Close()

	mgr := NewManager(lg, newTestReactor(t), dir)
	mapper := router.NewProxyRouterMapper()
	rec1 := newStateRecorder()
	rec1.connWG.Add(1)
	_, _ = mgr.Connect(rec1, testAddr, ipcsock.IntegrityLevelMedium, testPID, mapper)
	waitOrTimeout(t, &rec1.connWG, time.Second)

	otherPID := wire.ProvidedServiceInstanceID{Service: 7, Instance: 3, Major: 1, Minor: 1}
	rec2 := newStateRecorder()
	rec2.connWG.Add(1)
	_, state := mgr.Connect(rec2, testAddr, ipcsock.IntegrityLevelMedium, otherPID, mapper)
	if state != StateConnected {
		t.Fatalf("expected Connected for a second registration on an already-connected address, got %s", state)
	}
	waitOrTimeout(t, &rec2.connWG, time.Second)
}

func TestConnectionLossFanOut(t *testing.T) {
	lg := newTestLogger(t)
	dir := t.TempDir()
	skelMgr, _ := startTestServer(t, lg, dir)

	mgr := NewManager(lg, newTestReactor(t), dir)
	mapper := router.NewProxyRouterMapper()

	rec1 := newStateRecorder()
	rec1.connWG.Add(1)
	rec1.discWG.Add(1)
	mgr.Connect(rec1, testAddr, ipcsock.IntegrityLevelMedium, testPID, mapper)
	waitOrTimeout(t, &rec1.connWG, time.Second)

	otherPID := wire.ProvidedServiceInstanceID{Service: 7, Instance: 3, Major: 1, Minor: 1}
	rec2 := newStateRecorder()
	rec2.connWG.Add(1)
	rec2.discWG.Add(1)
	mgr.Connect(rec2, testAddr, ipcsock.IntegrityLevelMedium, otherPID, mapper)
	waitOrTimeout(t, &rec2.connWG, time.Second)

	skelMgr.Close()

	waitOrTimeout(t, &rec1.discWG, 2*time.Second)
	waitOrTimeout(t, &rec2.discWG, 2*time.Second)
}

func TestDisconnectLastHandlerForgetsConnection(t *testing.T) {
	lg := newTestLogger(t)
	dir := t.TempDir()
	skelMgr, _ := startTestServer(t, lg, dir)
	defer skelMgr.Close()

	mgr := NewManager(lg, newTestReactor(t), dir)
	mapper := router.NewProxyRouterMapper()
	rec := newStateRecorder()
	rec.connWG.Add(1)
	conn, _ := mgr.Connect(rec, testAddr, ipcsock.IntegrityLevelMedium, testPID, mapper)
	waitOrTimeout(t, &rec.connWG, time.Second)

	mgr.Disconnect(testPID, testAddr)
	if conn.RefCount() != 0 {
		t.Fatalf("expected ref count 0 after last Disconnect, got %d", conn.RefCount())
	}
	if got := len(mgr.Connections()); got != 0 {
		t.Fatalf("expected the manager to forget the connection, still tracking %d", got)
	}
}

func TestSendRequestFalseWhileDisconnected(t *testing.T) {
	lg := newTestLogger(t)
	mgr := NewManager(lg, newTestReactor(t), t.TempDir())
	mapper := router.NewProxyRouterMapper()

	// No server is listening: the dial fails and the connection drops back
	// to Disconnected.
	rec := newStateRecorder()
	rec.discWG.Add(1)
	conn, state := mgr.Connect(rec, testAddr, ipcsock.IntegrityLevelMedium, testPID, mapper)
	if state != StateConnecting {
		t.Fatalf("expected Connecting, got %s", state)
	}
	waitOrTimeout(t, &rec.discWG, 2*time.Second)

	ok := conn.SendRequest(wire.RRRHeader{Service: testPID.Service, Instance: testPID.Instance, Major: testPID.Major, Method: 5, Client: 1, Session: 1}, nil)
	if ok {
		t.Fatal("SendRequest must report false while no connection is up")
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting")
	}
}
