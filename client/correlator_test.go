package client

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusfabric/dxlclient-go/logx"
	"github.com/nexusfabric/dxlclient-go/message"
)

func TestCorrelatorSyncDeliversMatchingResponse(t *testing.T) {
	c := newCorrelator(logx.NewDefaultLogger())
	p := c.RegisterSync("req-1")

	resp := message.NewResponse("resp-1", "client-b", &message.Message{MessageID: "req-1", ReplyToTopic: "/x"}, []byte("ok"))

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Deliver(resp)
	}()

	got, ok := p.Wait(time.Second)
	require.True(t, ok)
	assert.Equal(t, []byte("ok"), got.Payload)
}

func TestCorrelatorSyncTimesOutWithoutResponse(t *testing.T) {
	c := newCorrelator(logx.NewDefaultLogger())
	p := c.RegisterSync("req-2")

	_, ok := p.Wait(20 * time.Millisecond)
	assert.False(t, ok)
}

func TestCorrelatorAsyncInvokesCallbackOnDelivery(t *testing.T) {
	c := newCorrelator(logx.NewDefaultLogger())
	var mu sync.Mutex
	var got *message.Message
	done := make(chan struct{})

	c.RegisterAsync("req-3", time.Second, func(resp *message.Message) {
		mu.Lock()
		got = resp
		mu.Unlock()
		close(done)
	})

	resp := message.NewResponse("resp-3", "client-b", &message.Message{MessageID: "req-3", ReplyToTopic: "/x"}, []byte("payload"))
	c.Deliver(resp)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async callback never invoked")
	}
	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got)
	assert.Equal(t, []byte("payload"), got.Payload)
}

func TestCorrelatorAsyncExpiresSilently(t *testing.T) {
	c := newCorrelator(logx.NewDefaultLogger())

	c.RegisterAsync("req-4", 5*time.Millisecond, func(resp *message.Message) {
		t.Fatal("async expiry must not invoke the callback")
	})
	c.StartExpirySweep(time.Millisecond)
	defer c.Stop()

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		_, stillPending := c.async["req-4"]
		return !stillPending
	}, time.Second, time.Millisecond, "expired async waiter was never garbage collected")

	time.Sleep(20 * time.Millisecond)
}

func TestCorrelatorDiscardsUnknownResponse(t *testing.T) {
	c := newCorrelator(logx.NewDefaultLogger())
	resp := message.NewResponse("resp-x", "client-b", &message.Message{MessageID: "no-such-request", ReplyToTopic: "/x"}, nil)
	assert.NotPanics(t, func() { c.Deliver(resp) })
}
