package router

import (
	"testing"

	"github.com/ara-ipc/binding/internal/wire"
)

var testPID = wire.ProvidedServiceInstanceID{Service: 7, Instance: 3, Major: 1}

type fakeSkeletonConn struct {
	responses []wire.RRRHeader
	errors    []wire.ReturnCode
	acks      []wire.SubscribeHeader
	nacks     []wire.SubscribeHeader
}

func (c *fakeSkeletonConn) SendResponse(h wire.RRRHeader, payload []byte) { c.responses = append(c.responses, h) }
func (c *fakeSkeletonConn) SendErrorResponse(h wire.RRRHeader, code wire.ReturnCode) {
	c.errors = append(c.errors, code)
}
func (c *fakeSkeletonConn) SendApplicationError(h wire.RRRHeader, payload []byte) {}
func (c *fakeSkeletonConn) SendSubscribeAck(h wire.SubscribeHeader)               { c.acks = append(c.acks, h) }
func (c *fakeSkeletonConn) SendSubscribeNAck(h wire.SubscribeHeader)              { c.nacks = append(c.nacks, h) }

type fakeHandler struct {
	subscribed   []wire.ConnectionID
	unsubscribed []wire.ConnectionID
	disconnected []wire.ConnectionID
}

func (h *fakeHandler) Dispatch(method wire.MethodID, payload []byte) ([]byte, wire.ReturnCode, bool) {
	if method != 5 {
		return nil, wire.ReturnCodeUnknownMethodID, false
	}
	return []byte{0xBE, 0xEF}, 0, true
}
func (h *fakeHandler) Subscribe(connID wire.ConnectionID, conn SkeletonConn, header wire.SubscribeHeader) {
	h.subscribed = append(h.subscribed, connID)
	conn.SendSubscribeAck(header)
}
func (h *fakeHandler) Unsubscribe(connID wire.ConnectionID, eventID wire.EventID) {
	h.unsubscribed = append(h.unsubscribed, connID)
}
func (h *fakeHandler) OnDisconnect(connID wire.ConnectionID) {
	h.disconnected = append(h.disconnected, connID)
}

func TestSkeletonRouterRequestHappyPath(t *testing.T) {
	r := New()
	h := &fakeHandler{}
	if err := r.Register(testPID, h); err != nil {
		t.Fatalf("Register: %v", err)
	}

	conn := &fakeSkeletonConn{}
	msg := &wire.Message{
		Type: wire.MessageTypeRequest,
		RRR:  &wire.RRRHeader{Service: 7, Instance: 3, Major: 1, Method: 5, Client: 42, Session: 1},
	}
	r.Route(1, conn, msg)

	if len(conn.responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(conn.responses))
	}
}

func TestSkeletonRouterUnknownMethod(t *testing.T) {
	r := New()
	h := &fakeHandler{}
	r.Register(testPID, h)

	conn := &fakeSkeletonConn{}
	msg := &wire.Message{
		Type: wire.MessageTypeRequest,
		RRR:  &wire.RRRHeader{Service: 7, Instance: 3, Major: 1, Method: 99, Client: 42, Session: 1},
	}
	r.Route(1, conn, msg)

	if len(conn.errors) != 1 || conn.errors[0] != wire.ReturnCodeUnknownMethodID {
		t.Fatalf("expected UnknownMethodId, got %+v", conn.errors)
	}
}

func TestSkeletonRouterUnknownService(t *testing.T) {
	r := New()
	r.Register(testPID, &fakeHandler{})
	conn := &fakeSkeletonConn{}
	msg := &wire.Message{
		Type: wire.MessageTypeRequest,
		RRR:  &wire.RRRHeader{Service: 99, Instance: 99, Major: 1, Method: 1, Client: 1, Session: 1},
	}
	r.Route(1, conn, msg)

	if len(conn.errors) != 1 || conn.errors[0] != wire.ReturnCodeUnknownServiceID {
		t.Fatalf("expected UnknownServiceId, got %+v", conn.errors)
	}
}

func TestSkeletonRouterUnknownInstance(t *testing.T) {
	r := New()
	r.Register(testPID, &fakeHandler{})
	conn := &fakeSkeletonConn{}
	// Known service, unknown instance of it.
	msg := &wire.Message{
		Type: wire.MessageTypeRequest,
		RRR:  &wire.RRRHeader{Service: testPID.Service, Instance: 99, Major: 1, Method: 1, Client: 1, Session: 1},
	}
	r.Route(1, conn, msg)

	if len(conn.errors) != 1 || conn.errors[0] != wire.ReturnCodeUnknownInstanceID {
		t.Fatalf("expected UnknownInstanceId, got %+v", conn.errors)
	}
}

func TestSkeletonRouterRejectsMinorOnlyVariant(t *testing.T) {
	r := New()
	if err := r.Register(testPID, &fakeHandler{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	variant := testPID
	variant.Minor = 9
	if err := r.Register(variant, &fakeHandler{}); err != ErrAlreadyRegistered {
		t.Fatalf("instances differing only in Minor are indistinguishable on the wire; expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestSkeletonRouterRequestNoReturnDropsSilently(t *testing.T) {
	r := New()
	conn := &fakeSkeletonConn{}
	msg := &wire.Message{
		Type: wire.MessageTypeRequestNoReturn,
		RRR:  &wire.RRRHeader{Service: 99, Instance: 99, Major: 1, Method: 1, Client: 1, Session: 1},
	}
	r.Route(1, conn, msg)

	if len(conn.errors) != 0 {
		t.Fatalf("RequestNoReturn must never produce an ErrorResponse, got %+v", conn.errors)
	}
}

func TestSkeletonRouterDuplicateRegisterFails(t *testing.T) {
	r := New()
	r.Register(testPID, &fakeHandler{})
	if err := r.Register(testPID, &fakeHandler{}); err != ErrAlreadyRegistered {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestSkeletonRouterSubscribeAndDisconnect(t *testing.T) {
	r := New()
	h := &fakeHandler{}
	r.Register(testPID, h)

	conn := &fakeSkeletonConn{}
	msg := &wire.Message{
		Type: wire.MessageTypeSubscribeEvent,
		Sub:  &wire.SubscribeHeader{Service: 7, Instance: 3, Major: 1, Event: 4, Client: 7},
	}
	r.Route(5, conn, msg)
	if len(conn.acks) != 1 {
		t.Fatalf("expected subscribe ack, got %+v", conn.acks)
	}

	r.OnDisconnect(5)
	if len(h.disconnected) != 1 || h.disconnected[0] != 5 {
		t.Fatalf("expected OnDisconnect(5), got %+v", h.disconnected)
	}
}

type fakeProxyHandler struct {
	responses     int
	notifications int
}

func (h *fakeProxyHandler) HandleResponse(msg *wire.Message)         { h.responses++ }
func (h *fakeProxyHandler) HandleErrorResponse(msg *wire.Message)    {}
func (h *fakeProxyHandler) HandleApplicationError(msg *wire.Message) {}
func (h *fakeProxyHandler) HandleNotification(msg *wire.Message)     { h.notifications++ }
func (h *fakeProxyHandler) HandleSubscribeAck(msg *wire.Message)     {}
func (h *fakeProxyHandler) HandleSubscribeNAck(msg *wire.Message)    {}

func TestProxyRouterMapperRoutesByClient(t *testing.T) {
	m := NewProxyRouterMapper()
	h1 := &fakeProxyHandler{}
	h2 := &fakeProxyHandler{}
	m.Register(testPID, 1, h1)
	m.Register(testPID, 2, h2)

	msg := &wire.Message{
		Type: wire.MessageTypeResponse,
		RRR:  &wire.RRRHeader{Service: 7, Instance: 3, Major: 1, Method: 5, Client: 1, Session: 1},
	}
	if !m.Route(msg) {
		t.Fatal("expected Route to find a handler")
	}
	if h1.responses != 1 || h2.responses != 0 {
		t.Fatalf("response routed to wrong handler: h1=%d h2=%d", h1.responses, h2.responses)
	}
}

func TestProxyRouterMapperFansOutNotifications(t *testing.T) {
	m := NewProxyRouterMapper()
	h1 := &fakeProxyHandler{}
	h2 := &fakeProxyHandler{}
	m.Register(testPID, 1, h1)
	m.Register(testPID, 2, h2)
	m.SubscribeEvent(testPID, 4, 1, h1)
	m.SubscribeEvent(testPID, 4, 2, h2)

	msg := &wire.Message{
		Type:   wire.MessageTypeNotification,
		Notify: &wire.NotificationHeader{Service: 7, Instance: 3, Major: 1, Event: 4, Session: 9},
	}
	if !m.Route(msg) {
		t.Fatal("expected Route to fan out")
	}
	if h1.notifications != 1 || h2.notifications != 1 {
		t.Fatalf("expected both subscribers notified: h1=%d h2=%d", h1.notifications, h2.notifications)
	}
}

func TestProxyRouterMapperReleaseDropsEventSub(t *testing.T) {
	m := NewProxyRouterMapper()
	h1 := &fakeProxyHandler{}
	m.Register(testPID, 1, h1)
	m.SubscribeEvent(testPID, 4, 1, h1)
	m.Release(testPID, 1)

	msg := &wire.Message{
		Type:   wire.MessageTypeNotification,
		Notify: &wire.NotificationHeader{Service: 7, Instance: 3, Major: 1, Event: 4, Session: 9},
	}
	if m.Route(msg) {
		t.Fatal("expected no handler after Release")
	}
}
