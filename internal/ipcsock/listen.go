package ipcsock

import (
	"fmt"
	"net"
	"os"
)

// Listener is a thin wrapper over net.Listener that removes a stale Unix
// domain socket file before binding, so an unclean shutdown does not leave
// "address already in use" behind. It does not itself implement
// exclusive-open locking: duplicate-offer detection is enforced one layer
// up, by internal/skeleton, which is the thing that actually knows what
// "the same provided instance" means.
type Listener struct {
	nl   net.Listener
	path string
}

// ListenUnix binds a new Unix domain socket listener at path, removing a
// pre-existing socket file at that path first (a stale file left behind by
// a crashed process, not an indication that another live Server is bound
// there — Server-level idempotence is checked before this is ever called).
func ListenUnix(path string) (*Listener, error) {
	if fi, err := os.Stat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		os.Remove(path)
	}
	nl, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("ipcsock: listen on %q: %w", path, err)
	}
	return &Listener{nl: nl, path: path}, nil
}

// Accept blocks until a new connection arrives or the listener is closed.
func (l *Listener) Accept() (net.Conn, error) {
	return l.nl.Accept()
}

// Close closes the listener and removes the backing socket file.
func (l *Listener) Close() error {
	err := l.nl.Close()
	os.Remove(l.path)
	return err
}

// Addr returns the listener's local address.
func (l *Listener) Addr() net.Addr {
	return l.nl.Addr()
}
