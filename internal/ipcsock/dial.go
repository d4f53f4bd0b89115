package ipcsock

import (
	"context"
	"fmt"
	"net"

	"github.com/sammck-go/logger"
)

// DialUnix opens a reliable local-socket connection to a Unix domain
// socket path and wraps it as a Conn. This is the dial half of the
// connect-async contract: internal/proxy calls it from a goroutine and
// feeds the result to its completion callback, so no caller ever blocks on
// the dial itself.
func DialUnix(ctx context.Context, log logger.Logger, path string) (Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, classifyDialError(err)
	}
	return NewFromNetConn(log, nc), nil
}

func classifyDialError(err error) error {
	if err == nil {
		return nil
	}
	if netErr, ok := err.(*net.OpError); ok {
		switch {
		case netErr.Timeout():
			return ConnectErrSystemEnvironmentError
		case isPermission(netErr):
			return ConnectErrInsufficientPrivileges
		case isNotExist(netErr):
			return ConnectErrAddressNotAvailable
		}
	}
	return fmt.Errorf("%w: %v", ConnectErrUnexpected, err)
}
