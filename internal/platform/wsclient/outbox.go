package wsclient

import (
	"errors"
	"fmt"
	"sync"
)

// OverflowPolicy decides what happens when the send queue is full.
type OverflowPolicy int

const (
	// DropOldest discards the oldest queued frame to make room.
	DropOldest OverflowPolicy = iota
	// Reject refuses the new frame with ErrSendQueueFull.
	Reject
)

func (p OverflowPolicy) String() string {
	switch p {
	case Reject:
		return "reject"
	default:
		return "drop-oldest"
	}
}

// ParseOverflowPolicy maps a config value to an OverflowPolicy.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "", "drop-oldest":
		return DropOldest, nil
	case "reject":
		return Reject, nil
	}
	return DropOldest, fmt.Errorf("unknown overflow policy %q", s)
}

// ErrSendQueueFull is returned by Send under the Reject policy.
var ErrSendQueueFull = errors.New("wsclient: send queue full")

// outbox is the bounded queue between Send and the writer goroutine of one
// connection. It is discarded with the connection.
type outbox struct {
	ch     chan []byte
	policy OverflowPolicy

	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newOutbox(size int, policy OverflowPolicy) *outbox {
	if size < 1 {
		size = 1
	}
	return &outbox{
		ch:     make(chan []byte, size),
		policy: policy,
		done:   make(chan struct{}),
	}
}

// push enqueues data. It reports whether an older frame was evicted.
func (o *outbox) push(data []byte) (evicted bool, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	select {
	case <-o.done:
		return false, ErrNotConnected
	default:
	}

	select {
	case o.ch <- data:
		return false, nil
	default:
	}

	if o.policy == Reject {
		return false, ErrSendQueueFull
	}

	select {
	case <-o.ch:
		evicted = true
	default:
	}
	// Only pushers fill the queue and they hold mu, so there is room now.
	o.ch <- data
	return evicted, nil
}

// pop blocks until a frame is available or the outbox is closed.
func (o *outbox) pop() ([]byte, bool) {
	select {
	case <-o.done:
		return nil, false
	default:
	}
	select {
	case data := <-o.ch:
		return data, true
	case <-o.done:
		return nil, false
	}
}

func (o *outbox) close() {
	o.closeOnce.Do(func() { close(o.done) })
}
