package client

import (
	"sync"

	"github.com/nexusfabric/dxlclient-go/types"
)

// fakeBroker is an in-process stand-in for an MQTT broker: it fans out
// Publish calls to every fakeTransport currently Subscribed to the topic
// (including wildcard "#" subscriptions), and lets tests force a
// disconnect to exercise the connection manager's reconnect path.
type fakeBroker struct {
	mu   sync.Mutex
	subs map[string]map[*fakeTransport]types.MessageHandler

	failConnect   bool
	connectDelay  func()
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{subs: make(map[string]map[*fakeTransport]types.MessageHandler)}
}

func (b *fakeBroker) subscribe(t *fakeTransport, topic string, h types.MessageHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*fakeTransport]types.MessageHandler)
	}
	b.subs[topic][t] = h
}

func (b *fakeBroker) unsubscribe(t *fakeTransport, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[topic], t)
}

func (b *fakeBroker) unsubscribeAll(t *fakeTransport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic := range b.subs {
		delete(b.subs[topic], t)
	}
}

func (b *fakeBroker) publish(topic string, payload []byte) {
	b.mu.Lock()
	type target struct {
		t *fakeTransport
		h types.MessageHandler
	}
	var targets []target
	for subTopic, handlers := range b.subs {
		if subTopic == topic || subTopic == "#" {
			for t, h := range handlers {
				targets = append(targets, target{t, h})
			}
		}
	}
	b.mu.Unlock()

	for _, tg := range targets {
		h := tg.h
		go h(topic, payload)
	}
}

// fakeTransport implements types.FabricTransport against a fakeBroker.
type fakeTransport struct {
	broker *fakeBroker

	mu          sync.Mutex
	connected   bool
	subs        map[string]types.MessageHandler
	lostHandler func(error)
}

func newFakeTransport(b *fakeBroker) *fakeTransport {
	return &fakeTransport{broker: b, subs: make(map[string]types.MessageHandler)}
}

func (t *fakeTransport) Connect(brokerURI string) error {
	if t.broker.failConnect {
		return &connectRefusedError{}
	}
	if t.broker.connectDelay != nil {
		t.broker.connectDelay()
	}
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Disconnect() {
	t.mu.Lock()
	t.connected = false
	subs := t.subs
	t.subs = make(map[string]types.MessageHandler)
	t.mu.Unlock()
	for topic := range subs {
		t.broker.unsubscribe(t, topic)
	}
}

func (t *fakeTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *fakeTransport) Publish(topic string, payload []byte) error {
	if !t.IsConnected() {
		return &connectRefusedError{}
	}
	t.broker.publish(topic, payload)
	return nil
}

func (t *fakeTransport) Subscribe(topic string, handler types.MessageHandler) error {
	t.mu.Lock()
	t.subs[topic] = handler
	t.mu.Unlock()
	t.broker.subscribe(t, topic, handler)
	return nil
}

func (t *fakeTransport) Unsubscribe(topic string) error {
	t.mu.Lock()
	delete(t.subs, topic)
	t.mu.Unlock()
	t.broker.unsubscribe(t, topic)
	return nil
}

func (t *fakeTransport) SetConnectionLostHandler(handler func(err error)) {
	t.mu.Lock()
	t.lostHandler = handler
	t.mu.Unlock()
}

// simulateLost fires the registered connection-lost handler, as a real
// transport would on an unexpected socket error.
func (t *fakeTransport) simulateLost(err error) {
	t.mu.Lock()
	t.connected = false
	h := t.lostHandler
	t.mu.Unlock()
	if h != nil {
		h(err)
	}
}

type connectRefusedError struct{}

func (*connectRefusedError) Error() string { return "connection refused" }

// fakeTransportFactory wraps a single fakeTransport in the transportFactory
// shape connectionManager expects. Tests don't need genuine per-connect
// transport identity, so the same instance is handed back every time.
func fakeTransportFactory(ft *fakeTransport) func() types.FabricTransport {
	return func() types.FabricTransport { return ft }
}

var _ types.FabricTransport = (*fakeTransport)(nil)
