package client

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexusfabric/dxlclient-go/broker"
	"github.com/nexusfabric/dxlclient-go/types"
)

type connectionState int32

const (
	stateDisconnected connectionState = iota
	stateConnecting
	stateConnected
)

// connectionManager owns the single transport connection, the broker list
// it is tried against, and the retry/reconnect state machine of spec.md
// §4.1/§4.5. connectWaitMu serializes Connect/Disconnect against each
// other, but a disconnect requested mid-retry does not queue behind it: it
// sets the interrupted flag and closes interruptCh first, which the retry
// loop's wait select observes immediately, and only then blocks on
// connectWaitMu for the loop to actually unwind.
type connectionManager struct {
	transportFactory func() types.FabricTransport
	logger           types.Logger
	tunables         Tunables
	subs             *subscriptionSet

	// onConnected is invoked (with the subs snapshot already resubscribed)
	// every time a connect attempt, initial or reconnect, succeeds.
	onConnected func()
	// onMessage routes every inbound delivery to the dispatcher.
	onMessage func(topic string, payload []byte)

	connectWaitMu sync.Mutex

	state       int32 // atomic connectionState
	interrupted int32 // atomic bool

	mu            sync.Mutex
	brokers       []*broker.Broker
	currentBroker *broker.Broker
	transport     types.FabricTransport

	interruptMu sync.Mutex
	interruptCh chan struct{}

	retry    *retryScheduler
	rankOpts broker.RankOptions
}

// newConnectionManager builds a connectionManager. transportFactory mints a
// fresh transport instance on demand: spec.md §4.5 step 1 requires every
// connect loop to start from "a new identity" because the underlying
// transport has no idempotent reset, and Disconnect's bounded-wait
// mitigation requires discarding and replacing a wedged instance outright.
// replyTopic is pinned into the subscription set so it survives every
// Unsubscribe call and is always re-asserted on reconnect.
func newConnectionManager(transportFactory func() types.FabricTransport, brokers []*broker.Broker, tun Tunables, logger types.Logger, replyTopic string) *connectionManager {
	cm := &connectionManager{
		transportFactory: transportFactory,
		logger:           logger,
		tunables:         tun,
		subs:             newSubscriptionSet(replyTopic),
		brokers:          brokers,
		interruptCh:      make(chan struct{}),
		retry:            newRetryScheduler(tun.ReconnectDelay, tun.ReconnectDelayMax, tun.ReconnectBackOffMultiplier, tun.ReconnectDelayRandom),
	}
	cm.transport = cm.transportFactory()
	cm.transport.SetConnectionLostHandler(cm.handleConnectionLost)
	return cm
}

func (cm *connectionManager) currentState() connectionState {
	return connectionState(atomic.LoadInt32(&cm.state))
}

func (cm *connectionManager) setState(s connectionState) {
	atomic.StoreInt32(&cm.state, int32(s))
}

// currentTransport returns the live transport instance. Disconnect may
// swap this out from under a stalled teardown, so every caller fetches it
// fresh rather than closing over a value.
func (cm *connectionManager) currentTransport() types.FabricTransport {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.transport
}

func (cm *connectionManager) IsConnected() bool {
	return cm.currentState() == stateConnected && cm.currentTransport().IsConnected()
}

func (cm *connectionManager) CurrentBroker() *broker.Broker {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.currentBroker
}

// resetTransport mints a fresh transport instance via the factory and
// rewires the connection-lost handler onto it (spec.md §4.5 step 1: "reset
// the underlying transport object" at the top of every connect loop).
func (cm *connectionManager) resetTransport() types.FabricTransport {
	t := cm.transportFactory()
	t.SetConnectionLostHandler(cm.handleConnectionLost)
	cm.mu.Lock()
	cm.transport = t
	cm.mu.Unlock()
	return t
}

// Connect blocks until a connection is established or the retry budget
// (tunables.ConnectRetries, -1 meaning unlimited) is exhausted.
func (cm *connectionManager) Connect() error {
	cm.connectWaitMu.Lock()
	defer cm.connectWaitMu.Unlock()

	if cm.IsConnected() {
		return nil
	}

	atomic.StoreInt32(&cm.interrupted, 0)
	cm.interruptMu.Lock()
	cm.interruptCh = make(chan struct{})
	interruptCh := cm.interruptCh
	cm.interruptMu.Unlock()

	cm.setState(stateConnecting)
	cm.retry.Reset(cm.tunables.ReconnectDelay)

	transport := cm.resetTransport()

	attempt := 0
	for {
		if atomic.LoadInt32(&cm.interrupted) != 0 {
			cm.setState(stateDisconnected)
			return NewConnectFailedError(attempt, nil)
		}

		ranked := broker.Rank(cm.brokerList(), cm.rankOpts)
		var lastErr error
		for _, b := range ranked {
			for _, uri := range b.URIs() {
				attempt++
				if err := transport.Connect(uri); err != nil {
					lastErr = err
					cm.logger.Warn("connect attempt to %s failed: %v", uri, err)
					continue
				}
				cm.mu.Lock()
				cm.currentBroker = b
				cm.mu.Unlock()
				cm.resubscribeAll()
				cm.setState(stateConnected)
				if cm.onConnected != nil {
					cm.onConnected()
				}
				return nil
			}
		}

		if cm.tunables.ConnectRetries >= 0 && attempt >= cm.tunables.ConnectRetries {
			cm.setState(stateDisconnected)
			return NewConnectFailedError(attempt, lastErr)
		}

		wait := cm.retry.Next()
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-interruptCh:
				timer.Stop()
				cm.setState(stateDisconnected)
				return NewConnectFailedError(attempt, lastErr)
			}
		}
	}
}

func (cm *connectionManager) brokerList() []*broker.Broker {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	out := make([]*broker.Broker, len(cm.brokers))
	copy(out, cm.brokers)
	return out
}

// resubscribeAll restores every topic the caller had previously subscribed
// to. It runs synchronously inside Connect(), after a successful dial but
// before the state flips to stateConnected, so no other goroutine can ever
// observe IsConnected() true with stale subscriptions (spec.md invariant
// I2).
func (cm *connectionManager) resubscribeAll() {
	transport := cm.currentTransport()
	for _, topic := range cm.subs.Snapshot() {
		if err := transport.Subscribe(topic, cm.deliver); err != nil {
			cm.logger.Error("failed to resubscribe to %q after reconnect: %v", topic, err)
		}
	}
}

func (cm *connectionManager) deliver(topic string, payload []byte) {
	if cm.onMessage != nil {
		cm.onMessage(topic, payload)
	}
}

// Subscribe adds topic to the tracked subscription set and, if currently
// connected, asks the transport to subscribe immediately.
func (cm *connectionManager) Subscribe(topic string) error {
	cm.subs.Add(topic)
	if !cm.IsConnected() {
		return nil
	}
	if err := cm.currentTransport().Subscribe(topic, cm.deliver); err != nil {
		return NewSubscribeError(topic, err)
	}
	return nil
}

// Unsubscribe removes topic from the tracked set and, if connected, asks
// the transport to unsubscribe immediately.
func (cm *connectionManager) Unsubscribe(topic string) error {
	cm.subs.Remove(topic)
	if !cm.IsConnected() {
		return nil
	}
	if err := cm.currentTransport().Unsubscribe(topic); err != nil {
		return NewSubscribeError(topic, err)
	}
	return nil
}

// Publish sends payload to topic, failing fast with ErrNotConnected rather
// than queuing (spec.md §4.1: publish is never buffered across a
// disconnect).
func (cm *connectionManager) Publish(topic string, payload []byte) error {
	if !cm.IsConnected() {
		return ErrNotConnected
	}
	if err := cm.currentTransport().Publish(topic, payload); err != nil {
		return NewPublishError(topic, err)
	}
	return nil
}

// Disconnect interrupts any in-flight connect/reconnect loop and tears down
// the live transport. The teardown itself runs on a helper goroutine with
// a bounded wait (tunables.DisconnectWait, default 60s): spec.md §4.5 calls
// out observed deadlocks in the underlying transport's disconnect path, so
// a Disconnect call that doesn't complete in time discards the transport
// and replaces it with a fresh instance rather than hang the caller.
func (cm *connectionManager) Disconnect() {
	atomic.StoreInt32(&cm.interrupted, 1)
	cm.interruptMu.Lock()
	select {
	case <-cm.interruptCh:
	default:
		close(cm.interruptCh)
	}
	cm.interruptMu.Unlock()

	cm.connectWaitMu.Lock()
	defer cm.connectWaitMu.Unlock()

	cm.mu.Lock()
	cm.currentBroker = nil
	cm.mu.Unlock()

	transport := cm.currentTransport()
	done := make(chan struct{})
	go func() {
		transport.Disconnect()
		close(done)
	}()

	wait := cm.tunables.DisconnectWait
	if wait <= 0 {
		wait = 60 * time.Second
	}
	select {
	case <-done:
	case <-time.After(wait):
		cm.logger.Warn("transport disconnect did not complete within %s, discarding and replacing it", wait)
		cm.resetTransport()
	}

	cm.setState(stateDisconnected)
}

// handleConnectionLost is wired as the transport's connection-lost handler.
// It transitions to Disconnected and, unless the caller disabled automatic
// recovery, starts a background reconnect loop (spec.md §4.5).
func (cm *connectionManager) handleConnectionLost(err error) {
	cm.setState(stateDisconnected)
	cm.logger.Warn("connection lost: %v", err)
	if cm.tunables.DisableDisconnectedStrategy {
		return
	}
	go func() {
		if reconnectErr := cm.Connect(); reconnectErr != nil {
			cm.logger.Error("automatic reconnect gave up: %v", reconnectErr)
		}
	}()
}
