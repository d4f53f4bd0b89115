package ipcsock

import (
	"os"
	"sync"
	"testing"

	"github.com/ara-ipc/binding/internal/wire"
	"github.com/sammck-go/logger"
)

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

func TestLoopPairSendReceive(t *testing.T) {
	lg := newTestLogger(t)
	a, b, err := NewLoopPair(lg)
	if err != nil {
		t.Fatalf("NewLoopPair: %v", err)
	}
	defer a.Close()
	defer b.Close()

	msg := &wire.Message{
		Type:    wire.MessageTypeRequest,
		RRR:     &wire.RRRHeader{Service: 7, Instance: 3, Major: 1, Method: 5, Client: 42, Session: 1},
		Payload: []byte{0xDE, 0xAD},
	}
	frame := wire.Encode(msg)

	var wg sync.WaitGroup
	wg.Add(1)
	var gotN int
	var gotErr error
	var gotBuf []byte
	b.ReceiveAsync(func(length int) []byte {
		gotBuf = make([]byte, length)
		return gotBuf
	}, func(n int, err error) {
		gotN, gotErr = n, err
		wg.Done()
	})

	res, err := a.Send(frame, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res != SendCompleted {
		t.Fatalf("expected synchronous completion, got %v", res)
	}

	wg.Wait()
	if gotErr != nil {
		t.Fatalf("receive error: %v", gotErr)
	}
	if gotN != len(frame) {
		t.Fatalf("got %d bytes, want %d", gotN, len(frame))
	}
	got, err := wire.Decode(gotBuf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Type != msg.Type || *got.RRR != *msg.RRR {
		t.Fatalf("decoded mismatch: %+v", got)
	}
}
