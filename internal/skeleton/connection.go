package skeleton

import (
	"fmt"

	"github.com/ara-ipc/binding/internal/handler"
	"github.com/ara-ipc/binding/internal/ids"
	"github.com/ara-ipc/binding/internal/ipcsock"
	"github.com/ara-ipc/binding/internal/router"
	"github.com/ara-ipc/binding/internal/wire"
	"github.com/sammck-go/logger"
)

// Connection is the skeleton-side per-peer connection. It owns a generic
// connection via a MessageHandler, carries a process-unique ConnectionID,
// and dispatches decoded inbound messages to the owning Server's
// SkeletonRouter. Destruction is deferred to the owning Server (see
// onError), never run from inside a receive callback.
type Connection struct {
	id     wire.ConnectionID
	conn   ipcsock.Conn
	mh     *handler.MessageHandler
	router *router.SkeletonRouter
	log    logger.Logger

	server *Server

	creds ipcsock.Credentials
}

// newConnection wraps an accepted ipcsock.Conn as a skeleton Connection
// owned by srv.
func newConnection(log logger.Logger, srv *Server, conn ipcsock.Conn, r *router.SkeletonRouter) *Connection {
	id := ids.DefaultConnectionIDs.Allocate()
	creds, _ := conn.GetPeerIdentity()
	c := &Connection{
		id:     id,
		conn:   conn,
		router: r,
		server: srv,
		creds:  creds,
		log:    log.ForkLogStr(fmt.Sprintf("skelconn#%d", id)),
	}
	c.mh = handler.New(c.log, conn)
	c.mh.OnMessage = c.onMessage
	c.mh.OnError = c.onError
	return c
}

// ID returns this connection's process-unique ConnectionId.
func (c *Connection) ID() wire.ConnectionID { return c.id }

// Credentials returns the OS-reported identity of the connecting peer.
func (c *Connection) Credentials() ipcsock.Credentials { return c.creds }

// Start arms the receive loop. Called once the Connection has been
// registered with its owning Server.
func (c *Connection) Start() {
	c.mh.Start()
}

// Close tears down the underlying connection.
func (c *Connection) Close() {
	c.conn.Close()
}

// IsInUse mirrors the generic connection's in-use predicate; the owning
// Server must wait for this to clear before dropping its last reference.
func (c *Connection) IsInUse() bool {
	return c.conn.IsInUse()
}

func (c *Connection) onMessage(msg *wire.Message) {
	switch msg.Type {
	case wire.MessageTypeRequest, wire.MessageTypeRequestNoReturn,
		wire.MessageTypeSubscribeEvent, wire.MessageTypeUnsubscribeEvent:
		c.router.Route(c.id, c, msg)
	case wire.MessageTypeUnsubscribeEventAck, wire.MessageTypeUnsubscribeEventNAck:
		// Reserved types: no subscriber-side handling is defined for them
		// yet, so receipt is a no-op rather than a violation.
		c.log.DLogf("ignoring reserved message type %s", msg.Type)
	default:
		// Any other type arriving on a skeleton connection is a protocol
		// violation: the connection is removed and closed through the same
		// deferred path as a transport error.
		c.log.WLogf("protocol violation: unexpected message type %s on skeleton connection, closing", msg.Type)
		c.onError(fmt.Errorf("protocol violation: unexpected message type %s", msg.Type))
	}
}

func (c *Connection) onError(err error) {
	c.log.DLogf("connection error, scheduling removal: %s", err)
	if c.server != nil {
		c.server.scheduleDrop(c)
	}
}

// SendResponse implements router.SkeletonConn.
func (c *Connection) SendResponse(h wire.RRRHeader, payload []byte) {
	c.send(&wire.Message{Type: wire.MessageTypeResponse, RRR: &h, Payload: payload})
}

// SendErrorResponse implements router.SkeletonConn.
func (c *Connection) SendErrorResponse(h wire.RRRHeader, code wire.ReturnCode) {
	c.send(&wire.Message{Type: wire.MessageTypeErrorResponse, Err: &wire.ErrorResponseHeader{RRRHeader: h, Code: code}})
}

// SendApplicationError implements router.SkeletonConn.
func (c *Connection) SendApplicationError(h wire.RRRHeader, payload []byte) {
	c.send(&wire.Message{Type: wire.MessageTypeApplicationError, RRR: &h, Payload: payload})
}

// SendNotification sends an event notification on this connection.
func (c *Connection) SendNotification(h wire.NotificationHeader, payload []byte) {
	c.send(&wire.Message{Type: wire.MessageTypeNotification, Notify: &h, Payload: payload})
}

// SendSubscribeAck implements router.SkeletonConn.
func (c *Connection) SendSubscribeAck(h wire.SubscribeHeader) {
	c.send(&wire.Message{Type: wire.MessageTypeSubscribeEventAck, Sub: &h})
}

// SendSubscribeNAck implements router.SkeletonConn.
func (c *Connection) SendSubscribeNAck(h wire.SubscribeHeader) {
	c.send(&wire.Message{Type: wire.MessageTypeSubscribeEventNAck, Sub: &h})
}

func (c *Connection) send(msg *wire.Message) {
	c.mh.Send(wire.Encode(msg))
}

func (c *Connection) String() string {
	return fmt.Sprintf("skeleton.Connection#%d", c.id)
}
