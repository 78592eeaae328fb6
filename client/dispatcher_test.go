package client

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusfabric/dxlclient-go/message"
	"github.com/nexusfabric/dxlclient-go/types"
)

func TestDispatcherRoutesByKind(t *testing.T) {
	d := newDispatcher(message.JSONCodec{}, 2, 16, types.NopLogger{})

	var events, requests, responses int32
	var wg sync.WaitGroup
	wg.Add(3)
	d.onEvent = func(*message.Message) { atomic.AddInt32(&events, 1); wg.Done() }
	d.onRequest = func(*message.Message) { atomic.AddInt32(&requests, 1); wg.Done() }
	d.onResponse = func(*message.Message) { atomic.AddInt32(&responses, 1); wg.Done() }
	d.Start()
	defer d.Stop()

	var codec message.JSONCodec
	ev, _ := codec.Encode(message.NewEvent("1", "c", "/t", nil))
	req, _ := codec.Encode(message.NewRequest("2", "c", "/t", "/reply", nil))
	resp, _ := codec.Encode(message.NewResponse("3", "c", &message.Message{MessageID: "2", ReplyToTopic: "/reply"}, nil))

	d.Submit("/t", ev)
	d.Submit("/t", req)
	d.Submit("/reply", resp)

	waitTimeout(t, &wg, time.Second)
	assert.EqualValues(t, 1, events)
	assert.EqualValues(t, 1, requests)
	assert.EqualValues(t, 1, responses)
}

func TestDispatcherSurvivesCallbackPanic(t *testing.T) {
	d := newDispatcher(message.JSONCodec{}, 1, 16, types.NopLogger{})
	var called int32
	d.onEvent = func(*message.Message) {
		atomic.AddInt32(&called, 1)
		panic("boom")
	}
	d.Start()
	defer d.Stop()

	var codec message.JSONCodec
	ev, _ := codec.Encode(message.NewEvent("1", "c", "/t", nil))
	d.Submit("/t", ev)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&called) == 1 }, time.Second, time.Millisecond)

	// Worker must still be alive: submit another message and expect it too.
	d.Submit("/t", ev)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&called) == 2 }, time.Second, time.Millisecond)
}

func TestDispatcherMarksWorkerGoroutine(t *testing.T) {
	d := newDispatcher(message.JSONCodec{}, 1, 16, types.NopLogger{})
	var sawMarked int32
	d.onEvent = func(*message.Message) {
		if isDispatcherThread() {
			atomic.StoreInt32(&sawMarked, 1)
		}
	}
	d.Start()
	defer d.Stop()

	assert.False(t, isDispatcherThread())

	var codec message.JSONCodec
	ev, _ := codec.Encode(message.NewEvent("1", "c", "/t", nil))
	d.Submit("/t", ev)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&sawMarked) == 1 }, time.Second, time.Millisecond)
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for dispatcher callbacks")
	}
}
