package client

import (
	"runtime"
	"sync"

	"github.com/nexusfabric/dxlclient-go/message"
	"github.com/nexusfabric/dxlclient-go/types"
)

// dispatchedMessage is one transport delivery queued for a worker.
type dispatchedMessage struct {
	topic   string
	payload []byte
}

// dispatcher is the bounded-queue worker pool of spec.md §4.4: transport
// deliveries are decoded off the transport goroutine and handed to a fixed
// number of workers via a blocking channel, so a slow callback applies
// backpressure to the broker rather than dropping messages.
type dispatcher struct {
	codec   message.Codec
	logger  types.Logger
	queue   chan dispatchedMessage
	workers int

	onEvent    func(*message.Message)
	onRequest  func(*message.Message)
	onResponse func(*message.Message)

	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	stopped   chan struct{}
}

func newDispatcher(codec message.Codec, workers, queueSize int, logger types.Logger) *dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 16384
	}
	return &dispatcher{
		codec:   codec,
		logger:  logger,
		queue:   make(chan dispatchedMessage, queueSize),
		workers: workers,
		stopped: make(chan struct{}),
	}
}

// Start launches the worker pool. Safe to call more than once: Connect()
// calls it on every invocation, but only the first call actually spawns
// workers.
func (d *dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.runWorker(i)
		}
	})
}

// Stop signals every worker to exit and waits for them; a callback already
// running finishes first, while messages still queued may be dropped. Safe
// to call more than once.
func (d *dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopped)
	})
	d.wg.Wait()
}

// Submit enqueues a raw transport delivery. This blocks when the queue is
// full rather than drop the message (spec.md §4.4).
func (d *dispatcher) Submit(topic string, payload []byte) {
	select {
	case d.queue <- dispatchedMessage{topic: topic, payload: payload}:
	case <-d.stopped:
	}
}

func (d *dispatcher) runWorker(id int) {
	defer d.wg.Done()
	markCurrentGoroutineAsDispatcher()
	defer unmarkCurrentGoroutineAsDispatcher()
	for {
		select {
		case <-d.stopped:
			return
		case m := <-d.queue:
			d.handle(m)
		}
	}
}

func (d *dispatcher) handle(m dispatchedMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic recovered in dispatcher worker: %v", r)
		}
	}()

	decoded, err := d.codec.Decode(m.payload)
	if err != nil {
		d.logger.Warn("failed to decode message on topic %q: %v", m.topic, err)
		return
	}
	decoded.DestinationTopic = m.topic

	switch decoded.Kind {
	case message.KindEvent:
		if d.onEvent != nil {
			d.onEvent(decoded)
		}
	case message.KindRequest:
		if d.onRequest != nil {
			d.onRequest(decoded)
		}
	case message.KindResponse, message.KindErrorResponse:
		if d.onResponse != nil {
			d.onResponse(decoded)
		}
	default:
		d.logger.Warn("dropping message of unknown kind on topic %q", m.topic)
	}
}

// goroutine-local dispatcher marker.
//
// Go has no thread-name equivalent, so "invoked from a dispatcher worker"
// is tracked with a per-goroutine marker keyed by runtime goroutine id,
// read via a tiny runtime.Stack parse. This is a standard-library-only
// concern: no library in the example pack provides goroutine-local
// storage (none exists for the language), so it is implemented directly
// rather than left unimplemented.
var dispatcherGoroutines sync.Map // goroutineID (string) -> struct{}

func markCurrentGoroutineAsDispatcher() {
	dispatcherGoroutines.Store(currentGoroutineID(), struct{}{})
}

func unmarkCurrentGoroutineAsDispatcher() {
	dispatcherGoroutines.Delete(currentGoroutineID())
}

func isDispatcherThread() bool {
	_, ok := dispatcherGoroutines.Load(currentGoroutineID())
	return ok
}

func currentGoroutineID() string {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// goroutine stack traces start with "goroutine <id> [running]:"
	b := buf[:n]
	const prefix = "goroutine "
	if len(b) <= len(prefix) {
		return ""
	}
	b = b[len(prefix):]
	end := 0
	for end < len(b) && b[end] != ' ' {
		end++
	}
	return string(b[:end])
}
