// Package reactor defines the single-threaded event-demultiplexer contract
// the binding schedules its deferred work on: connection state-change
// callbacks and deferred connection teardown execute serialized on one
// task stream. Accepted connections are taken up by each skeleton
// Server's own accept goroutine, not by the reactor. The production reactor is
// supplied by the embedding application; this package provides the
// consumed contract plus a minimal goroutine-backed reference
// implementation for tests and cmd/ipcbindctl, where no
// application-supplied event loop is available.
//
// internal/skeleton and internal/proxy take a Reactor and post their
// deferred work to it: connection state-change callbacks and deferred
// connection teardown run as reactor tasks, so observers see them
// serialized on one task stream. Their own bookkeeping maps stay guarded
// by per-component mutexes rather than being reactor-confined, so any
// application goroutine may call into them directly. Context is a witness
// type: a task receives one, and only a running Reactor can mint one, so a
// function taking a Context can only ever run on the reactor.
package reactor

// Context is an unforgeable witness that code is currently executing on a
// Reactor's single thread. It is never constructed directly; a Reactor
// passes one to every task it runs via Post.
type Context struct {
	r Reactor
}

// Reactor is the consumed contract: schedule a task to run on the single
// reactor thread, in FIFO order with every other scheduled task.
type Reactor interface {
	// Post schedules fn to run later on the reactor thread. Post may be
	// called from any goroutine; GoReactor's Post blocks while its task
	// queue is full.
	Post(fn func(Context))
}

var _ Reactor = (*GoReactor)(nil)
