// Package client implements the fabric pub/sub client: connection
// management, message dispatch, request/response correlation, and the
// service registry, behind a single Client façade (spec.md §4.8).
package client

import (
	"time"

	"github.com/nexusfabric/dxlclient-go/broker"
	"github.com/nexusfabric/dxlclient-go/message"
)

// EventCallback handles an inbound Event delivered on a subscribed topic.
type EventCallback func(evt *message.Message)

// ResponseCallback handles an inbound Response/ErrorResponse delivered on a
// matching topic. It is invoked for every such Response, including one that
// also completes a pending SyncRequest/AsyncRequest waiter.
type ResponseCallback func(resp *message.Message)

// Client is the thin façade spec.md §4.8 describes: every method that
// returns an error first verifies the client has been initialized, and every
// publish uses the transport's at-most-once (QoS 0) delivery. The callback
// add/remove methods, IsConnected, GetSubscriptions, GetCurrentBroker,
// GetConfig and SetDisconnectedStrategy do not check initialization.
type Client interface {
	Connect() error
	Disconnect() error
	Reconnect() error
	Close() error
	IsConnected() bool

	Subscribe(topic string) error
	Unsubscribe(topic string) error
	GetSubscriptions() []string

	SendEvent(topic string, payload []byte) error
	SendResponse(request *message.Message, payload []byte) error
	SendErrorResponse(request *message.Message, code int32, errMsg string) error

	SyncRequest(topic string, payload []byte, timeout time.Duration) (*message.Message, error)
	AsyncRequest(topic string, payload []byte, timeout time.Duration, cb AsyncResponseCallback) error

	AddEventCallback(topic string, cb EventCallback, autoSubscribe bool) int
	RemoveEventCallback(topic string, id int)
	AddRequestCallback(topic string, cb RequestCallback) int
	RemoveRequestCallback(topic string, id int)
	AddResponseCallback(topic string, cb ResponseCallback) int
	RemoveResponseCallback(topic string, id int)

	RegisterServiceSync(info ServiceRegistrationInfo, timeout time.Duration) (*ServiceRegistrationToken, error)
	RegisterServiceAsync(info ServiceRegistrationInfo) (*ServiceRegistrationToken, error)
	UnregisterServiceSync(token *ServiceRegistrationToken, timeout time.Duration) error
	UnregisterServiceAsync(token *ServiceRegistrationToken) error

	GetCurrentBroker() *broker.Broker
	GetConfig() *DxlClientConfig
	SetDisconnectedStrategy(disabled bool)
}
