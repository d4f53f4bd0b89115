// Package ids provides the process-wide monotonic identifier allocators: a
// ClientID source for proxy objects and a ConnectionID source for skeleton
// connections. Both are plain atomic counters starting at 1; wraparound is
// not defined for either, since overflow would require on the order of
// 2^32 allocations in a single process.
package ids

import (
	"sync/atomic"

	"github.com/ara-ipc/binding/internal/wire"
)

// ClientIDAllocator hands out process-wide unique wire.ClientID values.
type ClientIDAllocator struct {
	next uint32
}

// NewClientIDAllocator creates an allocator whose first Allocate() returns 1.
func NewClientIDAllocator() *ClientIDAllocator {
	return &ClientIDAllocator{}
}

// Allocate returns the next ClientID, starting at 1.
func (a *ClientIDAllocator) Allocate() wire.ClientID {
	return wire.ClientID(atomic.AddUint32(&a.next, 1))
}

// ConnectionIDAllocator hands out process-wide unique wire.ConnectionID
// values, scoped to skeleton connections.
type ConnectionIDAllocator struct {
	next uint32
}

// NewConnectionIDAllocator creates an allocator whose first Allocate()
// returns 1.
func NewConnectionIDAllocator() *ConnectionIDAllocator {
	return &ConnectionIDAllocator{}
}

// Allocate returns the next ConnectionID, starting at 1.
func (a *ConnectionIDAllocator) Allocate() wire.ConnectionID {
	return wire.ConnectionID(atomic.AddUint32(&a.next, 1))
}

// DefaultClientIDs is the process-wide ClientID allocator used by proxy
// factories that do not construct their own.
var DefaultClientIDs = NewClientIDAllocator()

// DefaultConnectionIDs is the process-wide ConnectionID allocator used by
// skeleton connection managers that do not construct their own.
var DefaultConnectionIDs = NewConnectionIDAllocator()
