package skeleton

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ara-ipc/binding/internal/handler"
	"github.com/ara-ipc/binding/internal/ipcsock"
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

var testAddr = wire.IpcUnicastAddress{Domain: 10, Port: 1000}
var testPID = wire.ProvidedServiceInstanceID{Service: 7, Instance: 3, Major: 1}

func dialTestClient(t *testing.T, lg logger.Logger, path string) *handler.MessageHandler {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var conn ipcsock.Conn
	var dialErr error
	for i := 0; i < 100; i++ {
		conn, dialErr = ipcsock.DialUnix(ctx, lg, path)
		if dialErr == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if dialErr != nil {
		t.Fatalf("dial: %v", dialErr)
	}
	return handler.New(lg, conn)
}

func TestRequestResponseHappyPath(t *testing.T) {
	lg := newTestLogger(t)
	r := router.New()
	mgr := NewManager(lg, newTestReactor(t), r, t.TempDir())

	backend := NewBackend(testPID)
	backend.RegisterMethod(5, func(payload []byte) []byte {
		return []byte{0xBE, 0xEF}
	})
	if _, err := mgr.CreateServer(testAddr, testPID, ipcsock.IntegrityLevelMedium, backend); err != nil {
		t.Fatalf("CreateServer: %v", err)
	}
	defer mgr.Close()

	client := dialTestClient(t, lg, mgr.SocketPath(testAddr))
	var wg sync.WaitGroup
	wg.Add(1)
	var got *wire.Message
	client.OnMessage = func(m *wire.Message) {
		got = m
		wg.Done()
	}
	client.Start()

	req := &wire.Message{
		Type:    wire.MessageTypeRequest,
		RRR:     &wire.RRRHeader{Service: testPID.Service, Instance: testPID.Instance, Major: testPID.Major, Method: 5, Client: 42, Session: 1},
		Payload: []byte{0xDE, 0xAD},
	}
	client.Send(wire.Encode(req))

	waitOrTimeout(t, &wg, time.Second)
	if got.Type != wire.MessageTypeResponse {
		t.Fatalf("expected Response, got %s", got.Type)
	}
	if string(got.Payload) != "\xBE\xEF" {
		t.Fatalf("unexpected payload: %x", got.Payload)
	}
	if *got.RRR != *req.RRR {
		t.Fatalf("header mismatch: %+v vs %+v", got.RRR, req.RRR)
	}
}

func TestUnknownMethod(t *testing.T) {
	lg := newTestLogger(t)
	r := router.New()
	mgr := NewManager(lg, newTestReactor(t), r, t.TempDir())

	backend := NewBackend(testPID)
	if _, err := mgr.CreateServer(testAddr, testPID, ipcsock.IntegrityLevelMedium, backend); err != nil {
		t.Fatalf("CreateServer: %v", err)
	}
	defer mgr.Close()

	client := dialTestClient(t, lg, mgr.SocketPath(testAddr))
	var wg sync.WaitGroup
	wg.Add(1)
	var got *wire.Message
	client.OnMessage = func(m *wire.Message) {
		got = m
		wg.Done()
	}
	client.Start()

	req := &wire.Message{
		Type: wire.MessageTypeRequest,
		RRR:  &wire.RRRHeader{Service: testPID.Service, Instance: testPID.Instance, Major: testPID.Major, Method: 99, Client: 42, Session: 1},
	}
	client.Send(wire.Encode(req))

	waitOrTimeout(t, &wg, time.Second)
	if got.Type != wire.MessageTypeErrorResponse {
		t.Fatalf("expected ErrorResponse, got %s", got.Type)
	}
	if got.Err.Code != wire.ReturnCodeUnknownMethodID {
		t.Fatalf("expected UnknownMethodId, got %s", got.Err.Code)
	}
}

func TestFieldInitialValueOnSubscribe(t *testing.T) {
	lg := newTestLogger(t)
	r := router.New()
	mgr := NewManager(lg, newTestReactor(t), r, t.TempDir())

	backend := NewBackend(testPID)
	ev := backend.RegisterEvent(4, true)
	ev.Send([]byte{0xAA, 0xBB})
	if _, err := mgr.CreateServer(testAddr, testPID, ipcsock.IntegrityLevelMedium, backend); err != nil {
		t.Fatalf("CreateServer: %v", err)
	}
	defer mgr.Close()

	client := dialTestClient(t, lg, mgr.SocketPath(testAddr))
	var mu sync.Mutex
	var received []*wire.Message
	var wg sync.WaitGroup
	wg.Add(2)
	client.OnMessage = func(m *wire.Message) {
		mu.Lock()
		received = append(received, m)
		mu.Unlock()
		wg.Done()
	}
	client.Start()

	sub := &wire.Message{
		Type: wire.MessageTypeSubscribeEvent,
		Sub:  &wire.SubscribeHeader{Service: testPID.Service, Instance: testPID.Instance, Major: testPID.Major, Event: 4, Client: 7},
	}
	client.Send(wire.Encode(sub))

	waitOrTimeout(t, &wg, time.Second)
	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("expected ack + notification, got %d messages", len(received))
	}
	if received[0].Type != wire.MessageTypeSubscribeEventAck {
		t.Fatalf("expected first message to be SubscribeEventAck, got %s", received[0].Type)
	}
	if received[1].Type != wire.MessageTypeNotification {
		t.Fatalf("expected second message to be Notification, got %s", received[1].Type)
	}
	if string(received[1].Payload) != "\xAA\xBB" {
		t.Fatalf("unexpected initial value payload: %x", received[1].Payload)
	}
}

func TestCreateServerIdempotent(t *testing.T) {
	lg := newTestLogger(t)
	r := router.New()
	mgr := NewManager(lg, newTestReactor(t), r, t.TempDir())

	backend := NewBackend(testPID)
	if _, err := mgr.CreateServer(testAddr, testPID, ipcsock.IntegrityLevelMedium, backend); err != nil {
		t.Fatalf("first CreateServer: %v", err)
	}
	defer mgr.Close()

	if _, err := mgr.CreateServer(testAddr, testPID, ipcsock.IntegrityLevelMedium, NewBackend(testPID)); err != ErrNotOK {
		t.Fatalf("expected ErrNotOK on duplicate CreateServer, got %v", err)
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
