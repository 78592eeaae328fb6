package client

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nexusfabric/dxlclient-go/types"
)

// pahoTransport implements types.FabricTransport on top of
// eclipse/paho.mqtt.golang, the fabric's underlying wire client (spec.md
// §4.2). QoS is always 0 (at-most-once): the core spec makes no delivery
// guarantee beyond the connection manager's reconnect/resubscribe (paho's
// own auto-reconnect is disabled in Connect), so anything higher just adds
// broker-side bookkeeping the client never relies on.
type pahoTransport struct {
	clientID  string
	tlsConfig *tls.Config
	proxyCfg  *ProxyConfig
	timeout   time.Duration
	keepAlive time.Duration
	logger    types.Logger

	mu       sync.RWMutex
	client   paho.Client
	lostFunc func(error)
}

type pahoTransportOption func(*pahoTransport)

func withClientID(id string) pahoTransportOption {
	return func(t *pahoTransport) { t.clientID = id }
}

func withTLSConfig(cfg *tls.Config) pahoTransportOption {
	return func(t *pahoTransport) { t.tlsConfig = cfg }
}

func withProxy(cfg *ProxyConfig) pahoTransportOption {
	return func(t *pahoTransport) { t.proxyCfg = cfg }
}

func withConnectTimeout(d time.Duration) pahoTransportOption {
	return func(t *pahoTransport) { t.timeout = d }
}

func withKeepAlive(d time.Duration) pahoTransportOption {
	return func(t *pahoTransport) { t.keepAlive = d }
}

func newPahoTransport(logger types.Logger, opts ...pahoTransportOption) *pahoTransport {
	t := &pahoTransport{
		clientID:  fmt.Sprintf("dxlclient-%s", uuid.NewString()),
		timeout:   10 * time.Second,
		keepAlive: 30 * time.Minute,
		logger:    logger,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Connect dials brokerURI (an ssl:// or wss:// URI produced by
// broker.Broker.URIs) and blocks until the paho client reports connected or
// the configured connect timeout elapses.
func (t *pahoTransport) Connect(brokerURI string) error {
	opts := paho.NewClientOptions()
	opts.AddBroker(brokerURI)
	opts.SetClientID(t.clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false) // the connectionManager owns retry/backoff
	opts.SetConnectTimeout(t.timeout)
	opts.SetKeepAlive(t.keepAlive)
	opts.SetOrderMatters(false)

	if t.tlsConfig != nil {
		opts.SetTLSConfig(t.tlsConfig)
	}

	if t.proxyCfg.configured() {
		t.wireProxyDialer(opts, brokerURI)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		t.mu.RLock()
		lost := t.lostFunc
		t.mu.RUnlock()
		if lost != nil {
			lost(err)
		}
	})

	c := paho.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(t.timeout) {
		return NewConnectFailedError(1, fmt.Errorf("timed out after %s", t.timeout))
	}
	if err := token.Error(); err != nil {
		return err
	}

	t.mu.Lock()
	t.client = c
	t.mu.Unlock()
	return nil
}

// wireProxyDialer routes the initial TCP dial through an HTTP CONNECT
// tunnel, used for the wss:// transport behind a corporate proxy (spec.md
// §4.2).
func (t *pahoTransport) wireProxyDialer(opts *paho.ClientOptions, brokerURI string) {
	opts.SetCustomOpenConnectionFn(func(uri *url.URL, pahoOpts paho.ClientOptions) (net.Conn, error) {
		if uri.Scheme == "ssl" || uri.Scheme == "tls" {
			return dialTLSThroughProxy(t.proxyCfg, uri.Host, t.tlsConfig, t.timeout)
		}
		return dialThroughProxy(t.proxyCfg, "tcp", uri.Host, t.timeout)
	})
}

func (t *pahoTransport) Disconnect() {
	t.mu.Lock()
	c := t.client
	t.client = nil
	t.mu.Unlock()
	if c != nil && c.IsConnected() {
		c.Disconnect(250)
	}
}

func (t *pahoTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.client != nil && t.client.IsConnected()
}

func (t *pahoTransport) Publish(topic string, payload []byte) error {
	t.mu.RLock()
	c := t.client
	t.mu.RUnlock()
	if c == nil {
		return ErrNotConnected
	}
	token := c.Publish(topic, 0, false, payload)
	token.Wait()
	return token.Error()
}

func (t *pahoTransport) Subscribe(topic string, handler types.MessageHandler) error {
	t.mu.RLock()
	c := t.client
	t.mu.RUnlock()
	if c == nil {
		return ErrNotConnected
	}
	token := c.Subscribe(topic, 0, func(_ paho.Client, m paho.Message) {
		handler(m.Topic(), m.Payload())
	})
	token.Wait()
	return token.Error()
}

func (t *pahoTransport) Unsubscribe(topic string) error {
	t.mu.RLock()
	c := t.client
	t.mu.RUnlock()
	if c == nil {
		return ErrNotConnected
	}
	token := c.Unsubscribe(topic)
	token.Wait()
	return token.Error()
}

func (t *pahoTransport) SetConnectionLostHandler(handler func(err error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lostFunc = handler
}

var _ types.FabricTransport = (*pahoTransport)(nil)
