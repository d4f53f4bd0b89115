// Package skeleton implements the server side of the binding: the accept
// loop, the per-provided-instance Server bookkeeping, the per-peer
// connection, and the event fan-out with its field initial-value rule.
package skeleton

import (
	"fmt"
	"time"

	"github.com/ara-ipc/binding/internal/ipcsock"
	"github.com/jpillora/backoff"
	"github.com/sammck-go/asyncobj"
	"github.com/sammck-go/logger"
)

// Acceptor owns one listening Unix domain socket and delivers accepted
// connections one at a time to whoever is waiting on Conns(). A background
// goroutine calls Accept in a loop and forwards successes over an
// unbuffered channel, retrying transient errors with backoff and jitter so
// a brief fd-exhaustion episode does not kill the listener.
type Acceptor struct {
	*asyncobj.Helper

	path string
	ln   *ipcsock.Listener

	conns chan ipcsock.Conn
	stop  chan struct{}
	done  chan struct{}

	connLog logger.Logger
}

// NewAcceptor constructs an Acceptor bound to a Unix domain socket path. It
// does not bind until Init is called.
func NewAcceptor(log logger.Logger, path string) *Acceptor {
	a := &Acceptor{path: path, conns: make(chan ipcsock.Conn), connLog: log}
	a.Helper = asyncobj.NewHelper(log.ForkLogStr(fmt.Sprintf("acceptor(%s)", path)), a)
	return a
}

// HandleOnceActivate implements asyncobj.OnceActivateHandler: binds the
// listening socket and starts the accept-loop goroutine.
func (a *Acceptor) HandleOnceActivate() error {
	ln, err := ipcsock.ListenUnix(a.path)
	if err != nil {
		return err
	}
	a.ln = ln
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	go a.acceptLoop()
	return nil
}

// HandleOnceShutdown implements asyncobj.OnceShutdownHandler. Closing the
// listener unblocks the accept loop; once it has exited, any pre-accepted
// connections nobody picked up are drained and abandoned, and the conns
// channel is closed so the owning Server's range loop terminates.
func (a *Acceptor) HandleOnceShutdown(completionErr error) error {
	if a.ln != nil {
		close(a.stop)
		err := a.ln.Close()
		if completionErr == nil {
			completionErr = err
		}
		<-a.done
	DRAIN:
		for {
			select {
			case c := <-a.conns:
				c.Close()
			default:
				break DRAIN
			}
		}
	}
	close(a.conns)
	return completionErr
}

// Init binds the listening socket synchronously, so callers can observe
// bind failures (e.g. AddressNotAvailable) before offering the service.
func (a *Acceptor) Init() error {
	return a.DoOnceActivate(nil, false)
}

func (a *Acceptor) acceptLoop() {
	defer close(a.done)
	bo := &backoff.Backoff{Min: 5 * time.Millisecond, Max: 1 * time.Second, Factor: 2, Jitter: true}
	for {
		nc, err := a.ln.Accept()
		if err != nil {
			if a.IsDoneShutdown() {
				return
			}
			if isTemporary(err) {
				d := bo.Duration()
				a.DLogf("transient accept error, retrying in %s: %s", d, err)
				time.Sleep(d)
				continue
			}
			a.StartShutdown(err)
			return
		}
		bo.Reset()
		conn := ipcsock.NewFromNetConn(a.connLog, nc)
		select {
		case a.conns <- conn:
		case <-a.stop:
			conn.Close()
			return
		}
	}
}

// Conns returns the channel of accepted connections. A closed channel
// (after a receive of the zero value) indicates the Acceptor has shut
// down.
func (a *Acceptor) Conns() <-chan ipcsock.Conn {
	return a.conns
}

type temporary interface {
	Temporary() bool
}

func isTemporary(err error) bool {
	te, ok := err.(temporary)
	return ok && te.Temporary()
}
