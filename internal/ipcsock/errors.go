package ipcsock

import (
	"errors"
	"os"
)

// ErrTruncation reports a receive whose caller-supplied buffer did not
// match the announced message length. It is the one failure class this
// wrapper detects itself rather than mapping from an OS errno.
var ErrTruncation = errors.New("ipcsock: truncated message buffer")

func isPermission(err error) bool {
	return errors.Is(err, os.ErrPermission)
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
