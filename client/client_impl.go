package client

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nexusfabric/dxlclient-go/broker"
	"github.com/nexusfabric/dxlclient-go/message"
	"github.com/nexusfabric/dxlclient-go/types"
)

type eventEntry struct {
	id int64
	cb EventCallback
}

type requestEntry struct {
	id int64
	cb RequestCallback
}

type responseEntry struct {
	id int64
	cb ResponseCallback
}

// DxlClient is the concrete Client implementation wiring together the
// connection manager, dispatcher, correlator, service registry, and the
// three per-kind callback registries (spec.md §4.8, §9 "one component, not
// a type hierarchy").
type DxlClient struct {
	clientID string
	codec    message.Codec
	logger   types.Logger
	config   *DxlClientConfig

	conn        *connectionManager
	dispatcher  *dispatcher
	correlator  *correlator
	services    *serviceRegistry
	replyTopic  string
	initialized int32

	nextID int64

	events    *registry[eventEntry]
	requests  *registry[requestEntry]
	responses *registry[responseEntry]
}

// NewDxlClient builds a DxlClient from config, applying opts in order. The
// returned client is constructed but not connected; call Connect.
func NewDxlClient(config *DxlClientConfig, opts ...ClientOption) (*DxlClient, error) {
	o := defaultClientOptions()
	for _, opt := range opts {
		opt(o)
	}

	clientID := o.clientID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	tlsConfig, err := buildTLSConfig(config.Certs)
	if err != nil {
		return nil, err
	}

	transportOpts := []pahoTransportOption{
		withClientID(clientID),
		withTLSConfig(tlsConfig),
		withConnectTimeout(config.Tunables.BrokerConnectTimeout),
		withKeepAlive(config.Tunables.KeepAliveInterval),
	}
	if config.Proxy.configured() {
		transportOpts = append(transportOpts, withProxy(config.Proxy))
	}

	c := &DxlClient{
		clientID:  clientID,
		codec:     o.codec,
		logger:    o.logger,
		config:    config,
		events:    newRegistry[eventEntry](),
		requests:  newRegistry[requestEntry](),
		responses: newRegistry[responseEntry](),
	}
	c.replyTopic = ReplyTopicPrefix + clientID

	// transportFactory mints a fresh transport per connect loop (spec.md
	// §4.5 step 1): the test-only o.transport injection point is a
	// singleton, since test doubles don't need genuine identity churn.
	transportFactory := func() types.FabricTransport {
		if o.transport != nil {
			return o.transport
		}
		return newPahoTransport(o.logger, transportOpts...)
	}

	c.conn = newConnectionManager(transportFactory, config.ActiveBrokers(), config.Tunables, o.logger, c.replyTopic)
	if o.rankOpts != nil {
		c.conn.rankOpts = *o.rankOpts
	}
	c.conn.onMessage = c.handleDelivery
	c.conn.onConnected = func() { c.logger.Info("connected to broker %v", c.conn.CurrentBroker()) }

	c.dispatcher = newDispatcher(o.codec, config.Tunables.IncomingMessageThreadPoolSize, config.Tunables.IncomingMessageQueueSize, o.logger)
	c.dispatcher.onEvent = c.dispatchEvent
	c.dispatcher.onRequest = c.dispatchRequest
	c.dispatcher.onResponse = c.dispatchResponse

	c.correlator = newCorrelator(o.logger)
	c.correlator.StartExpirySweep(config.Tunables.AsyncCallbackCheckInterval)

	c.services = newServiceRegistry(o.codec, clientID, c.replyTopic, config.Tunables, o.logger)
	c.services.publish = c.publishRaw
	c.services.subscribe = c.Subscribe
	c.services.unsub = c.Unsubscribe
	c.services.syncRequest = c.syncRequestMessage

	atomic.StoreInt32(&c.initialized, 1)
	return c, nil
}

func (c *DxlClient) checkInitialized() error {
	if atomic.LoadInt32(&c.initialized) == 0 {
		return ErrNotInitialized
	}
	return nil
}

// Connect establishes a transport connection, starts the dispatcher, and
// subscribes to this client's reply topic.
func (c *DxlClient) Connect() error {
	if err := c.checkInitialized(); err != nil {
		return err
	}
	c.dispatcher.Start()
	if err := c.conn.Connect(); err != nil {
		return err
	}
	return c.conn.Subscribe(c.replyTopic)
}

// Disconnect tears down the transport. The dispatcher and service refresh
// loops are left running so Reconnect can resume without re-registering
// services from scratch.
func (c *DxlClient) Disconnect() error {
	if err := c.checkInitialized(); err != nil {
		return err
	}
	c.conn.Disconnect()
	return nil
}

// Reconnect disconnects (if connected) and connects again.
func (c *DxlClient) Reconnect() error {
	if err := c.checkInitialized(); err != nil {
		return err
	}
	c.conn.Disconnect()
	return c.conn.Connect()
}

// Close performs the documented best-effort shutdown (spec.md §9 Open
// Question, resolved synchronous-best-effort): every registered service is
// unregistered with a bounded wait before the transport and dispatcher are
// torn down, so a wedged transport cannot hang process exit.
func (c *DxlClient) Close() error {
	if err := c.checkInitialized(); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		c.services.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		c.logger.Warn("timed out waiting for service unregistration during close")
	}

	c.correlator.Stop()
	c.conn.Disconnect()
	c.dispatcher.Stop()
	atomic.StoreInt32(&c.initialized, 0)
	return nil
}

func (c *DxlClient) IsConnected() bool {
	return c.conn.IsConnected()
}

func (c *DxlClient) Subscribe(topic string) error {
	if err := c.checkInitialized(); err != nil {
		return err
	}
	return c.conn.Subscribe(topic)
}

func (c *DxlClient) Unsubscribe(topic string) error {
	if err := c.checkInitialized(); err != nil {
		return err
	}
	return c.conn.Unsubscribe(topic)
}

func (c *DxlClient) GetSubscriptions() []string {
	return c.conn.subs.Snapshot()
}

func (c *DxlClient) publishRaw(topic string, payload []byte) error {
	return c.conn.Publish(topic, payload)
}

func (c *DxlClient) SendEvent(topic string, payload []byte) error {
	if err := c.checkInitialized(); err != nil {
		return err
	}
	evt := message.NewEvent(uuid.NewString(), c.clientID, topic, payload)
	data, err := c.codec.Encode(evt)
	if err != nil {
		return NewPublishError(topic, err)
	}
	return c.conn.Publish(topic, data)
}

func (c *DxlClient) SendResponse(request *message.Message, payload []byte) error {
	if err := c.checkInitialized(); err != nil {
		return err
	}
	resp := message.NewResponse(uuid.NewString(), c.clientID, request, payload)
	data, err := c.codec.Encode(resp)
	if err != nil {
		return NewPublishError(resp.DestinationTopic, err)
	}
	return c.conn.Publish(resp.DestinationTopic, data)
}

func (c *DxlClient) SendErrorResponse(request *message.Message, code int32, errMsg string) error {
	if err := c.checkInitialized(); err != nil {
		return err
	}
	resp := message.NewErrorResponse(uuid.NewString(), c.clientID, request, code, errMsg)
	data, err := c.codec.Encode(resp)
	if err != nil {
		return NewPublishError(resp.DestinationTopic, err)
	}
	return c.conn.Publish(resp.DestinationTopic, data)
}

// SyncRequest publishes req and blocks the calling goroutine for at most
// timeout waiting for the matching Response. Forbidden from a dispatcher
// worker goroutine (spec.md §5).
func (c *DxlClient) SyncRequest(topic string, payload []byte, timeout time.Duration) (*message.Message, error) {
	if err := c.checkInitialized(); err != nil {
		return nil, err
	}
	if isDispatcherThread() {
		return nil, ErrWrongThread
	}

	req := message.NewRequest(uuid.NewString(), c.clientID, topic, c.replyTopic, payload)
	return c.syncRequestMessage(req, timeout)
}

// syncRequestMessage publishes a fully-built Request and blocks for at most
// timeout waiting for its correlated Response. Unlike SyncRequest, it takes
// the Request as-is rather than constructing one from a topic/payload pair,
// which is what lets the service registry (service.go) drive the same
// publish-and-wait machinery for registration/unregistration acknowledgement
// (spec.md §4.7) without duplicating the correlator plumbing.
func (c *DxlClient) syncRequestMessage(req *message.Message, timeout time.Duration) (*message.Message, error) {
	waiter := c.correlator.RegisterSync(req.MessageID)

	data, err := c.codec.Encode(req)
	if err != nil {
		c.correlator.UnregisterSync(req.MessageID)
		return nil, NewPublishError(req.DestinationTopic, err)
	}
	if err := c.conn.Publish(req.DestinationTopic, data); err != nil {
		c.correlator.UnregisterSync(req.MessageID)
		return nil, err
	}

	resp, ok := waiter.Wait(timeout)
	if !ok {
		c.correlator.UnregisterSync(req.MessageID)
		return nil, NewWaitTimeoutError("syncRequest", timeout)
	}
	return resp, nil
}

// AsyncRequest publishes req and invokes cb from a goroutine when the
// Response arrives. If the wait budget elapses first, the pending entry is
// dropped silently and cb is never invoked (spec.md §9).
func (c *DxlClient) AsyncRequest(topic string, payload []byte, timeout time.Duration, cb AsyncResponseCallback) error {
	if err := c.checkInitialized(); err != nil {
		return err
	}
	req := message.NewRequest(uuid.NewString(), c.clientID, topic, c.replyTopic, payload)
	c.correlator.RegisterAsync(req.MessageID, timeout, cb)

	data, err := c.codec.Encode(req)
	if err != nil {
		return NewPublishError(topic, err)
	}
	return c.conn.Publish(topic, data)
}

func (c *DxlClient) AddEventCallback(topic string, cb EventCallback, autoSubscribe bool) int {
	id := atomic.AddInt64(&c.nextID, 1)
	c.events.AddCallback(topic, eventEntry{id: id, cb: cb})
	if autoSubscribe && topic != "" {
		if err := c.conn.Subscribe(topic); err != nil {
			c.logger.Error("auto-subscribe for event callback on %q failed: %v", topic, err)
		}
	}
	return int(id)
}

func (c *DxlClient) RemoveEventCallback(topic string, id int) {
	c.events.RemoveCallback(topic, func(e eventEntry) bool { return e.id == int64(id) })
}

func (c *DxlClient) AddRequestCallback(topic string, cb RequestCallback) int {
	id := atomic.AddInt64(&c.nextID, 1)
	c.requests.AddCallback(topic, requestEntry{id: id, cb: cb})
	return int(id)
}

func (c *DxlClient) RemoveRequestCallback(topic string, id int) {
	c.requests.RemoveCallback(topic, func(e requestEntry) bool { return e.id == int64(id) })
}

func (c *DxlClient) AddResponseCallback(topic string, cb ResponseCallback) int {
	id := atomic.AddInt64(&c.nextID, 1)
	c.responses.AddCallback(topic, responseEntry{id: id, cb: cb})
	return int(id)
}

func (c *DxlClient) RemoveResponseCallback(topic string, id int) {
	c.responses.RemoveCallback(topic, func(e responseEntry) bool { return e.id == int64(id) })
}

func (c *DxlClient) RegisterServiceSync(info ServiceRegistrationInfo, timeout time.Duration) (*ServiceRegistrationToken, error) {
	if err := c.checkInitialized(); err != nil {
		return nil, err
	}
	type result struct {
		token *ServiceRegistrationToken
		err   error
	}
	done := make(chan result, 1)
	go func() {
		token, err := c.services.RegisterService(info)
		done <- result{token, err}
	}()
	select {
	case r := <-done:
		return r.token, r.err
	case <-time.After(timeout):
		return nil, NewWaitTimeoutError("registerServiceSync", timeout)
	}
}

func (c *DxlClient) RegisterServiceAsync(info ServiceRegistrationInfo) (*ServiceRegistrationToken, error) {
	if err := c.checkInitialized(); err != nil {
		return nil, err
	}
	return c.services.RegisterServiceAsync(info)
}

func (c *DxlClient) UnregisterServiceSync(token *ServiceRegistrationToken, timeout time.Duration) error {
	if err := c.checkInitialized(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- c.services.UnregisterService(token) }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return NewWaitTimeoutError("unregisterServiceSync", timeout)
	}
}

func (c *DxlClient) UnregisterServiceAsync(token *ServiceRegistrationToken) error {
	if err := c.checkInitialized(); err != nil {
		return err
	}
	return c.services.UnregisterServiceAsync(token)
}

func (c *DxlClient) GetCurrentBroker() *broker.Broker {
	return c.conn.CurrentBroker()
}

func (c *DxlClient) GetConfig() *DxlClientConfig {
	return c.config
}

func (c *DxlClient) SetDisconnectedStrategy(disabled bool) {
	c.config.Tunables.DisableDisconnectedStrategy = disabled
	c.conn.tunables.DisableDisconnectedStrategy = disabled
}

func (c *DxlClient) handleDelivery(topic string, payload []byte) {
	c.dispatcher.Submit(topic, payload)
}

func (c *DxlClient) dispatchEvent(m *message.Message) {
	for _, e := range c.events.Fire(m.DestinationTopic) {
		e.cb(m)
	}
}

func (c *DxlClient) dispatchRequest(m *message.Message) {
	if c.services.Dispatch(m) {
		return
	}
	for _, e := range c.requests.Fire(m.DestinationTopic) {
		e.cb(m)
	}
}

func (c *DxlClient) dispatchResponse(m *message.Message) {
	c.correlator.Deliver(m)
	for _, e := range c.responses.Fire(m.DestinationTopic) {
		e.cb(m)
	}
}

var _ Client = (*DxlClient)(nil)
