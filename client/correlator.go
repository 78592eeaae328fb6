package client

import (
	"sync"
	"time"

	"github.com/nexusfabric/dxlclient-go/message"
	"github.com/nexusfabric/dxlclient-go/types"
)

// AsyncResponseCallback receives the Response/ErrorResponse for a Request
// sent via asyncRequest. It is called only when that Response arrives: if
// the wait budget expires first, the pending entry is dropped and the
// callback is never called, matching spec.md §4.6's "silent async expiry".
type AsyncResponseCallback func(resp *message.Message)

// pendingSync is one in-flight synchronous request: the dispatcher worker
// that eventually decodes the matching Response signals done exactly once.
type pendingSync struct {
	mu   sync.Mutex
	cond *sync.Cond
	resp *message.Message
	done bool
}

type pendingAsync struct {
	cb       AsyncResponseCallback
	deadline time.Time
}

// correlator matches inbound Response/ErrorResponse messages back to the
// Request that triggered them by MessageID, and enforces the "never block
// a dispatcher worker" invariant from spec.md §4.6.
type correlator struct {
	logger types.Logger

	mu     sync.Mutex
	sync_  map[string]*pendingSync
	async  map[string]pendingAsync

	stopOnce sync.Once
	stopped  chan struct{}
}

func newCorrelator(logger types.Logger) *correlator {
	return &correlator{
		logger:  logger,
		sync_:   make(map[string]*pendingSync),
		async:   make(map[string]pendingAsync),
		stopped: make(chan struct{}),
	}
}

// StartExpirySweep launches the background goroutine that drops async waits
// whose deadline has passed, without invoking their callbacks, polling every
// interval (spec.md §4.6,
// tunables.AsyncCallbackCheckInterval).
func (c *correlator) StartExpirySweep(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopped:
				return
			case <-ticker.C:
				c.sweepExpiredAsync()
			}
		}
	}()
}

func (c *correlator) Stop() {
	c.stopOnce.Do(func() { close(c.stopped) })
}

// sweepExpiredAsync drops async waiters whose deadline has passed. This is
// best-effort garbage collection, not a notification: spec.md §4.6 states
// the callback is never invoked on timeout expiry, so an expired entry is
// simply removed.
func (c *correlator) sweepExpiredAsync() {
	now := time.Now()
	c.mu.Lock()
	for id, p := range c.async {
		if now.After(p.deadline) {
			delete(c.async, id)
		}
	}
	c.mu.Unlock()
}

// RegisterSync records requestMessageID as awaiting a synchronous reply and
// returns the waiter. Must be called from the publishing goroutine, never
// from a dispatcher worker (ErrWrongThread guards the caller-visible
// syncRequest entry point, not this internal helper).
func (c *correlator) RegisterSync(requestMessageID string) *pendingSync {
	p := &pendingSync{}
	p.cond = sync.NewCond(&p.mu)
	c.mu.Lock()
	c.sync_[requestMessageID] = p
	c.mu.Unlock()
	return p
}

// UnregisterSync removes a sync waiter, e.g. after its wait budget expires.
func (c *correlator) UnregisterSync(requestMessageID string) {
	c.mu.Lock()
	delete(c.sync_, requestMessageID)
	c.mu.Unlock()
}

// RegisterAsync records requestMessageID as awaiting an asynchronous reply,
// invoking cb (at most once, from a goroutine spawned off the dispatcher so
// the worker pool is never blocked) when the Response arrives. If the
// deadline passes first, the expiry sweep drops the entry and cb is never
// invoked.
func (c *correlator) RegisterAsync(requestMessageID string, wait time.Duration, cb AsyncResponseCallback) {
	c.mu.Lock()
	c.async[requestMessageID] = pendingAsync{cb: cb, deadline: time.Now().Add(wait)}
	c.mu.Unlock()
}

// Deliver routes an inbound Response/ErrorResponse to whichever waiter (sync
// or async) is registered for its RequestMessageID. Called from a
// dispatcher worker; never blocks.
func (c *correlator) Deliver(resp *message.Message) {
	id := resp.RequestMessageID

	c.mu.Lock()
	if p, ok := c.sync_[id]; ok {
		delete(c.sync_, id)
		c.mu.Unlock()
		p.mu.Lock()
		p.resp = resp
		p.done = true
		p.cond.Signal()
		p.mu.Unlock()
		return
	}
	if a, ok := c.async[id]; ok {
		delete(c.async, id)
		c.mu.Unlock()
		cb := a.cb
		go cb(resp)
		return
	}
	c.mu.Unlock()
	c.logger.Debug("discarding response for unknown or expired request %q", id)
}

// Wait blocks the calling goroutine until the Response arrives or timeout
// elapses, whichever is first.
func (p *pendingSync) Wait(timeout time.Duration) (*message.Message, bool) {
	done := make(chan struct{})
	timer := time.AfterFunc(timeout, func() {
		p.mu.Lock()
		if !p.done {
			p.done = true
			p.cond.Broadcast()
		}
		p.mu.Unlock()
	})
	defer timer.Stop()

	go func() {
		p.mu.Lock()
		for !p.done {
			p.cond.Wait()
		}
		p.mu.Unlock()
		close(done)
	}()
	<-done

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resp, p.resp != nil
}
