package reactor

import "sync"

// GoReactor is the reference Reactor implementation: a buffered channel
// drained by a single goroutine, which is all a single-threaded
// cooperative event loop needs when the OS-facing demultiplexing is
// already done by the net package.
type GoReactor struct {
	tasks chan func(Context)

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

// NewGoReactor constructs a GoReactor with the given task queue depth and
// starts its dispatch goroutine, so the reactor runs in the background for
// its callers (tests, cmd/ipcbindctl).
func NewGoReactor(queueDepth int) *GoReactor {
	r := &GoReactor{
		tasks: make(chan func(Context), queueDepth),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *GoReactor) run() {
	defer close(r.done)
	ctx := Context{r: r}
	for fn := range r.tasks {
		fn(ctx)
	}
}

// Post implements Reactor. Post and Stop share a mutex around the send/close
// so a Post losing the race with a concurrent Stop never sends on a closed
// channel; this serializes posts behind Stop rather than allowing true
// concurrent enqueue, an acceptable tradeoff for a reference implementation.
// When queueDepth tasks are already waiting, Post blocks until the dispatch
// goroutine takes one.
func (r *GoReactor) Post(fn func(Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.tasks <- fn
}

// Stop closes the task queue and waits for any already-queued tasks to
// finish running, then returns. Calling Post after Stop is a no-op.
func (r *GoReactor) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.tasks)
	r.mu.Unlock()
	<-r.done
}
