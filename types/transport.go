package types

// FabricTransport abstracts the wire connection to a broker: connect,
// publish, subscribe, and a connection-lost notification. The MQTT
// implementation lives in package client (mqtt_transport.go); this
// interface is what the connection manager and service registry program
// against, so tests can substitute an in-memory fake.
type FabricTransport interface {
	// Connect dials brokerURI (already resolved to one of the ranked
	// broker URIs) and blocks until the MQTT CONNACK is received or an
	// error occurs.
	Connect(brokerURI string) error

	// Disconnect tears down the live connection. Safe to call when not
	// connected.
	Disconnect()

	// IsConnected reports whether the underlying client believes it has a
	// live session.
	IsConnected() bool

	// Publish sends payload to topic at QoS 0.
	Publish(topic string, payload []byte) error

	// Subscribe registers interest in topic; incoming messages are
	// delivered to handler on a transport-owned goroutine.
	Subscribe(topic string, handler MessageHandler) error

	// Unsubscribe removes a prior Subscribe registration.
	Unsubscribe(topic string) error

	// SetConnectionLostHandler installs the callback invoked when the
	// transport detects an unexpected disconnect.
	SetConnectionLostHandler(handler func(err error))
}

// MessageHandler processes one inbound transport delivery: the topic it
// arrived on and the raw encoded payload.
type MessageHandler func(topic string, payload []byte)
