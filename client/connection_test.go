package client

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusfabric/dxlclient-go/broker"
	"github.com/nexusfabric/dxlclient-go/logx"
)

// stubRankOptions keeps broker.Rank from touching the real network: tests
// use synthetic, unresolvable hostnames, so ranking must be short-circuited
// to a deterministic "no response" probe.
func stubRankOptions() broker.RankOptions {
	return broker.RankOptions{
		Dial: func(network, address string, timeout time.Duration) (net.Conn, error) {
			return nil, errTestDialRefused
		},
	}
}

var errTestDialRefused = assertErr{}

func testTunables() Tunables {
	return Tunables{
		ConnectRetries:             3,
		ReconnectDelay:             time.Millisecond,
		ReconnectBackOffMultiplier: 2,
		ReconnectDelayMax:          10 * time.Millisecond,
		ReconnectDelayRandom:       0,
	}
}

func TestConnectionManagerConnectsAndTracksState(t *testing.T) {
	fb := newFakeBroker()
	ft := newFakeTransport(fb)
	b := broker.New("b1", "broker1.example.com", "", 8883)

	cm := newConnectionManager(fakeTransportFactory(ft), []*broker.Broker{b}, testTunables(), logx.NewDefaultLogger(), "")
	cm.rankOpts = stubRankOptions()

	assert.False(t, cm.IsConnected())
	require.NoError(t, cm.Connect())
	assert.True(t, cm.IsConnected())
	assert.Equal(t, b, cm.CurrentBroker())
}

func TestConnectionManagerExhaustsRetriesAndFails(t *testing.T) {
	fb := newFakeBroker()
	fb.failConnect = true
	ft := newFakeTransport(fb)
	b := broker.New("b1", "broker1.example.com", "", 8883)

	cm := newConnectionManager(fakeTransportFactory(ft), []*broker.Broker{b}, testTunables(), logx.NewDefaultLogger(), "")
	cm.rankOpts = stubRankOptions()

	err := cm.Connect()
	require.Error(t, err)
	assert.False(t, cm.IsConnected())
}

func TestConnectionManagerResubscribesAfterReconnect(t *testing.T) {
	fb := newFakeBroker()
	ft := newFakeTransport(fb)
	b := broker.New("b1", "broker1.example.com", "", 8883)

	cm := newConnectionManager(fakeTransportFactory(ft), []*broker.Broker{b}, testTunables(), logx.NewDefaultLogger(), "")
	cm.rankOpts = stubRankOptions()

	received := make(chan string, 4)
	cm.onMessage = func(topic string, payload []byte) { received <- topic }

	require.NoError(t, cm.Connect())
	require.NoError(t, cm.Subscribe("/a/b"))

	fb.publish("/a/b", []byte("1"))
	select {
	case topic := <-received:
		assert.Equal(t, "/a/b", topic)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first delivery")
	}

	ft.simulateLost(assertErr{})
	require.Eventually(t, cm.IsConnected, time.Second, time.Millisecond, "expected automatic reconnect")

	fb.publish("/a/b", []byte("2"))
	select {
	case topic := <-received:
		assert.Equal(t, "/a/b", topic)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for post-reconnect delivery")
	}
}

func TestConnectionManagerDisconnectInterruptsRetryLoop(t *testing.T) {
	fb := newFakeBroker()
	fb.failConnect = true
	ft := newFakeTransport(fb)
	b := broker.New("b1", "broker1.example.com", "", 8883)

	tun := testTunables()
	tun.ConnectRetries = -1
	cm := newConnectionManager(fakeTransportFactory(ft), []*broker.Broker{b}, tun, logx.NewDefaultLogger(), "")
	cm.rankOpts = stubRankOptions()

	done := make(chan error, 1)
	go func() { done <- cm.Connect() }()

	time.Sleep(10 * time.Millisecond)
	cm.Disconnect()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Disconnect did not interrupt the retry loop")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "simulated connection loss" }
