package ipcsock

import (
	"fmt"

	"github.com/prep/socketpair"
	"github.com/sammck-go/logger"
)

// NewLoopPair returns two already-connected Conns backed by a single
// socketpair(2) call, with no listener or dialer involved. Tests use it to
// drive a connection pair (for instance a skeleton Connection against a
// bare MessageHandler) without a real filesystem socket.
func NewLoopPair(log logger.Logger) (a, b Conn, err error) {
	ncA, ncB, err := socketpair.New("unix")
	if err != nil {
		return nil, nil, fmt.Errorf("ipcsock: socketpair: %w", err)
	}
	return NewFromNetConn(log, ncA), NewFromNetConn(log, ncB), nil
}
