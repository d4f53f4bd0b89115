// Package ipcsock is the generic-connection layer: an async wrapper over a
// reliable, message-framed local socket, exposing exactly the operations
// the binding needs (ConnectAsync/ReceiveAsync/Send/Close/peer-identity)
// rather than a general byte-stream abstraction.
package ipcsock

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/jpillora/sizestr"
	"github.com/sammck-go/asyncobj"
	"github.com/sammck-go/logger"
)

// ConnectError enumerates the asynchronous failure modes of ConnectAsync.
type ConnectError int

const (
	ConnectErrUnexpected ConnectError = iota
	ConnectErrAlreadyConnected
	ConnectErrAddressNotAvailable
	ConnectErrInsufficientPrivileges
	ConnectErrDisconnected
	ConnectErrSystemEnvironmentError
	ConnectErrResource
)

func (e ConnectError) Error() string {
	switch e {
	case ConnectErrUnexpected:
		return "unexpected"
	case ConnectErrAlreadyConnected:
		return "already connected"
	case ConnectErrAddressNotAvailable:
		return "address not available"
	case ConnectErrInsufficientPrivileges:
		return "insufficient privileges"
	case ConnectErrDisconnected:
		return "disconnected"
	case ConnectErrSystemEnvironmentError:
		return "system environment error"
	case ConnectErrResource:
		return "resource exhausted"
	default:
		return "connect error"
	}
}

// SendResult is the synchronous outcome of Send.
type SendResult int

const (
	// SendCompleted means the bytes were handed to the OS synchronously.
	SendCompleted SendResult = iota
	// SendAsyncProcessingNecessary means Send would have blocked; the
	// caller's onComplete will be invoked later from the reactor.
	SendAsyncProcessingNecessary
)

// IntegrityLevel is a coarse, OS-reported trust level of a peer process.
// Higher values indicate more trust; the core only ever asks "at least X".
type IntegrityLevel int

const (
	IntegrityLevelUntrusted IntegrityLevel = iota
	IntegrityLevelLow
	IntegrityLevelMedium
	IntegrityLevelHigh
	IntegrityLevelSystem
)

// Credentials is the OS-reported identity of a connection's peer.
type Credentials struct {
	PID            int32
	UID            uint32
	GID            uint32
	IntegrityLevel IntegrityLevel
}

// Conn is the generic-connection contract. Exactly one outstanding receive
// and exactly one outstanding send are ever in flight at a time; Conn
// implementations enforce neither invariant themselves
// (internal/handler.MessageHandler owns both).
type Conn interface {
	asyncobj.AsyncShutdowner

	// ConnectAsync initiates a connection to peerAddress. onComplete is
	// invoked exactly once, with a nil error on success; netConn invokes it
	// from a new goroutine, not from the reactor.
	ConnectAsync(ctx context.Context, peerAddress string, onComplete func(error))

	// ReceiveAsync arms a single asynchronous receive. onMessageAvailable
	// is invoked synchronously from the socket's read path once a
	// message's length is known, and must return a buffer of exactly
	// len bytes for the message body to be copied into.
	// onReceiveComplete is invoked once the buffer has been filled (or an
	// error occurred) and does not re-arm automatically; callers
	// wanting a steady stream call ReceiveAsync again from within
	// onReceiveComplete, exactly as internal/handler does.
	ReceiveAsync(onMessageAvailable func(length int) []byte, onReceiveComplete func(n int, err error))

	// Send attempts a synchronous send of view. If the OS socket would
	// block, Send returns SendAsyncProcessingNecessary immediately and
	// onComplete is invoked later, from the reactor, with the final
	// result.
	Send(view []byte, onComplete func(error)) (SendResult, error)

	// CheckPeerIntegrityLevel reports whether the peer's OS-reported
	// integrity level is at least minimum.
	CheckPeerIntegrityLevel(minimum IntegrityLevel) bool

	// GetPeerIdentity returns the OS-reported credentials of the peer.
	GetPeerIdentity() (Credentials, error)

	// Close shuts the connection down and waits for shutdown to complete,
	// exactly as asyncobj.Helper.Close does.
	Close() error

	// CheckIsOpen reports whether the underlying socket is still open.
	CheckIsOpen() bool

	// IsInUse reports whether callbacks registered through this
	// connection may still execute. Destruction must wait for this to
	// return false.
	IsInUse() bool
}

// netConn is the concrete Conn implementation backed by a net.Conn (in
// production, a Unix domain stream socket; in tests, a socketpair-created
// pair — see internal/ipcsock/looptransport.go).
type netConn struct {
	*asyncobj.Helper

	nc     net.Conn
	sendMu sync.Mutex
}

// NewFromNetConn wraps an already-connected net.Conn as a Conn. Use this
// for sockets obtained from net.Dial, net.Listener.Accept, or
// prep/socketpair.
func NewFromNetConn(log logger.Logger, nc net.Conn) Conn {
	c := &netConn{nc: nc}
	c.Helper = asyncobj.NewHelper(log.ForkLogStr(fmt.Sprintf("conn(%s)", nc.RemoteAddr())), c)
	c.SetIsActivated()
	return c
}

// HandleOnceShutdown implements asyncobj.OnceShutdownHandler.
func (c *netConn) HandleOnceShutdown(completionErr error) error {
	err := c.nc.Close()
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}

func (c *netConn) ConnectAsync(ctx context.Context, peerAddress string, onComplete func(error)) {
	// netConn always wraps an already-connected socket (produced by an
	// Acceptor or a dialer helper); ConnectAsync here only exists to
	// satisfy the Conn contract for callers that construct a Conn before
	// a transport is available. See DialUnix in dial.go for the dialer that
	// actually connects and then calls NewFromNetConn.
	go onComplete(nil)
}

func (c *netConn) ReceiveAsync(onMessageAvailable func(length int) []byte, onReceiveComplete func(n int, err error)) {
	if err := c.DeferShutdown(); err != nil {
		onReceiveComplete(0, err)
		return
	}
	defer c.UndeferShutdown()

	go c.receiveOneMessage(onMessageAvailable, onReceiveComplete)
}

func (c *netConn) receiveOneMessage(onMessageAvailable func(length int) []byte, onReceiveComplete func(n int, err error)) {
	var hdr [12]byte
	if _, err := readFull(c.nc, hdr[:]); err != nil {
		onReceiveComplete(0, err)
		return
	}
	_, bodyLen, err := decodeLength(hdr[:])
	if err != nil {
		onReceiveComplete(0, err)
		return
	}
	total := 12 + int(bodyLen)
	buf := onMessageAvailable(total)
	if len(buf) != total {
		onReceiveComplete(0, ErrTruncation)
		return
	}
	copy(buf[0:12], hdr[:])
	if bodyLen > 0 {
		if _, err := readFull(c.nc, buf[12:total]); err != nil {
			onReceiveComplete(0, err)
			return
		}
	}
	onReceiveComplete(total, nil)
}

func (c *netConn) Send(view []byte, onComplete func(error)) (SendResult, error) {
	if err := c.DeferShutdown(); err != nil {
		return SendCompleted, err
	}
	defer c.UndeferShutdown()

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	n, err := c.nc.Write(view)
	if err == nil && n != len(view) {
		err = fmt.Errorf("ipcsock: short write of %s out of %s", sizestr.ToString(int64(n)), sizestr.ToString(int64(len(view))))
	}
	return SendCompleted, err
}

func (c *netConn) CheckPeerIntegrityLevel(minimum IntegrityLevel) bool {
	cred, err := c.GetPeerIdentity()
	if err != nil {
		return false
	}
	return cred.IntegrityLevel >= minimum
}

func (c *netConn) GetPeerIdentity() (Credentials, error) {
	return getPeerCredentials(c.nc)
}

func (c *netConn) CheckIsOpen() bool {
	return !c.IsDoneShutdown()
}

func (c *netConn) IsInUse() bool {
	return !c.IsDoneShutdown()
}

func (c *netConn) String() string {
	if c.nc == nil {
		return "ipcsock.Conn(closed)"
	}
	return fmt.Sprintf("ipcsock.Conn(%s)", c.nc.RemoteAddr())
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func decodeLength(hdr []byte) (version uint32, bodyLen uint32, err error) {
	version = uint32(hdr[0]) | uint32(hdr[1])<<8 | uint32(hdr[2])<<16 | uint32(hdr[3])<<24
	bodyLen = uint32(hdr[8]) | uint32(hdr[9])<<8 | uint32(hdr[10])<<16 | uint32(hdr[11])<<24
	return version, bodyLen, nil
}
