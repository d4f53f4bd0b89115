// Package handler implements the per-connection message handler: a
// non-blocking send queue plus an asynchronous receive loop, built on top
// of internal/ipcsock.Conn. This is shared machinery used by both
// internal/skeleton.Connection and internal/proxy.Connection.
package handler

import (
	"fmt"
	"sync"

	"github.com/ara-ipc/binding/internal/ipcsock"
	"github.com/ara-ipc/binding/internal/wire"
	"github.com/jpillora/sizestr"
	"github.com/sammck-go/asyncobj"
	"github.com/sammck-go/logger"
)

// sendState is the send pipeline's three-state machine over {Idle,
// Sending, Error}.
type sendState int

const (
	stateIdle sendState = iota
	stateSending
	stateError
)

// MessageHandler owns the send pipeline and receive loop for a single
// open Conn. It is held by skeleton.Connection and proxy.Connection,
// which supply the OnMessage/OnError callbacks.
type MessageHandler struct {
	*asyncobj.Helper

	conn ipcsock.Conn
	log  logger.Logger

	sendMu    sync.Mutex
	sendState sendState
	queue     [][]byte

	// OnMessage is invoked once per fully received, decoded Message, from
	// the connection's receive goroutine. It must not block.
	OnMessage func(*wire.Message)

	// OnError is invoked exactly once per connection lifetime, the first
	// time either the send or receive path observes an unrecoverable
	// error. The Error state is terminal for a handler instance.
	OnError func(error)

	errOnce sync.Once
}

// New creates a MessageHandler bound to conn. The caller must still call
// Start to arm the receive loop.
func New(log logger.Logger, conn ipcsock.Conn) *MessageHandler {
	h := &MessageHandler{conn: conn, log: log}
	h.Helper = asyncobj.NewHelper(log.ForkLogStr("MessageHandler"), h)
	h.SetIsActivated()
	return h
}

// HandleOnceShutdown implements asyncobj.OnceShutdownHandler. The owned
// conn's shutdown is started but not waited for here, since this can run
// from inside one of the conn's own callbacks.
func (h *MessageHandler) HandleOnceShutdown(completionErr error) error {
	h.sendMu.Lock()
	h.sendState = stateError
	h.queue = nil
	h.sendMu.Unlock()
	h.conn.StartShutdown(completionErr)
	return completionErr
}

// Start arms the first ReceiveAsync call. Exactly one ReceiveAsync is ever
// outstanding at a time; the completion callback re-arms the next one.
func (h *MessageHandler) Start() {
	h.armReceive()
}

func (h *MessageHandler) armReceive() {
	if err := h.DeferShutdown(); err != nil {
		return
	}
	defer h.UndeferShutdown()

	var buf []byte
	h.conn.ReceiveAsync(
		func(length int) []byte {
			buf = make([]byte, length)
			return buf
		},
		func(n int, err error) {
			h.onReceiveComplete(buf, n, err)
		},
	)
}

func (h *MessageHandler) onReceiveComplete(buf []byte, n int, err error) {
	if err != nil {
		h.fail(err)
		return
	}
	msg, decErr := wire.Decode(buf[:n])
	if decErr != nil {
		h.log.WLogf("malformed message, closing connection: %s", decErr)
		h.fail(decErr)
		return
	}
	h.log.DLogf("received %s message (%s)", msg.Type, sizestr.ToString(int64(n)))
	if h.OnMessage != nil {
		h.OnMessage(msg)
	}
	// Re-arm for the next message. Loss of connection is reported via
	// onReceiveComplete's err branch above, not by stopping silently.
	h.armReceive()
}

func (h *MessageHandler) fail(err error) {
	h.errOnce.Do(func() {
		h.sendMu.Lock()
		h.sendState = stateError
		h.queue = nil
		h.sendMu.Unlock()
		if h.OnError != nil {
			h.OnError(err)
		}
		h.StartShutdown(err)
	})
}

// Send enqueues a pre-encoded frame for transmission. It returns
// immediately; the actual socket write happens either synchronously within
// this call (if the connection is idle) or later, from the completion of
// the send already in flight. If the handler is already in the Error state, the packet is
// dropped; nothing is ever transmitted on an errored handler again.
func (h *MessageHandler) Send(frame []byte) {
	h.sendMu.Lock()
	switch h.sendState {
	case stateError:
		h.sendMu.Unlock()
		h.log.DLogf("Send on errored connection dropped (%s)", sizestr.ToString(int64(len(frame))))
		return
	case stateIdle:
		// Enqueue behind anything AddToSendQueue already staged, then
		// transmit the head, so FIFO order holds across both entry points.
		h.queue = append(h.queue, frame)
		next := h.queue[0]
		h.queue = h.queue[1:]
		h.sendState = stateSending
		h.sendMu.Unlock()
		h.sendNext(next)
		return
	default: // stateSending
		h.queue = append(h.queue, frame)
		h.sendMu.Unlock()
	}
}

// AddToSendQueue enqueues frame without attempting transmission, even when
// the pipeline is idle. A producer thread pairs this with a SendQueued
// scheduled onto the reactor, so the socket attempt itself happens off the
// producer's stack. Frames enqueued on an errored handler are dropped.
func (h *MessageHandler) AddToSendQueue(frame []byte) {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	if h.sendState == stateError {
		h.log.DLogf("AddToSendQueue on errored connection dropped (%s)", sizestr.ToString(int64(len(frame))))
		return
	}
	h.queue = append(h.queue, frame)
}

// SendQueued starts transmitting whatever AddToSendQueue has accumulated,
// if the pipeline is idle. A no-op when a send is already in flight (the
// in-flight completion drains the queue) or the handler has errored.
func (h *MessageHandler) SendQueued() {
	h.sendMu.Lock()
	if h.sendState != stateIdle || len(h.queue) == 0 {
		h.sendMu.Unlock()
		return
	}
	next := h.queue[0]
	h.queue = h.queue[1:]
	h.sendState = stateSending
	h.sendMu.Unlock()
	h.sendNext(next)
}

// sendNext issues one synchronous-or-asynchronous send attempt for frame.
// No mutex is held across the socket Send call itself.
func (h *MessageHandler) sendNext(frame []byte) {
	if err := h.DeferShutdown(); err != nil {
		h.fail(err)
		return
	}
	res, err := h.conn.Send(frame, func(err error) {
		h.UndeferShutdown()
		h.onSendComplete(err)
	})
	if res == ipcsock.SendAsyncProcessingNecessary && err == nil {
		// completion (and UndeferShutdown) will arrive via the callback
		return
	}
	h.UndeferShutdown()
	h.onSendComplete(err)
}

// onSendComplete pops the head of the queue and either advances to the
// next queued packet or returns to Idle. The loop is bounded by the queue
// length at entry plus whatever producers append while it drains.
func (h *MessageHandler) onSendComplete(err error) {
	if err != nil {
		h.fail(err)
		return
	}
	for {
		h.sendMu.Lock()
		if len(h.queue) == 0 {
			h.sendState = stateIdle
			h.sendMu.Unlock()
			return
		}
		next := h.queue[0]
		h.queue = h.queue[1:]
		h.sendMu.Unlock()

		if derr := h.DeferShutdown(); derr != nil {
			h.fail(derr)
			return
		}
		res, sendErr := h.conn.Send(next, func(err error) {
			h.UndeferShutdown()
			h.onSendComplete(err)
		})
		if res == ipcsock.SendAsyncProcessingNecessary && sendErr == nil {
			return
		}
		h.UndeferShutdown()
		if sendErr != nil {
			h.fail(sendErr)
			return
		}
		// Synchronous completion: loop to try the next queued packet.
	}
}

func (h *MessageHandler) String() string {
	return fmt.Sprintf("MessageHandler(%s)", h.conn)
}
