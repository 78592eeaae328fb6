// Package message defines the fabric's wire-level message kinds. Encoding
// and decoding are delegated to a Codec; this package only guarantees that
// bytes produced by Encode and consumed by Decode round-trip the fields
// enumerated below losslessly. JSONCodec (jsoncodec.go) is the Codec the
// client uses by default; callers may supply another (see client.WithCodec),
// since the on-wire format is treated as an external collaborator.
package message

import "fmt"

// Kind distinguishes the four message shapes the fabric carries.
type Kind int

const (
	KindEvent Kind = iota
	KindRequest
	KindResponse
	KindErrorResponse
)

func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "Event"
	case KindRequest:
		return "Request"
	case KindResponse:
		return "Response"
	case KindErrorResponse:
		return "ErrorResponse"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Message is the tagged union of Event, Request, Response, and
// ErrorResponse. All four kinds share the fields declared directly on
// Message; kind-specific fields are populated only for the relevant Kind
// and are zero-valued otherwise.
type Message struct {
	Kind Kind

	// Shared fields (spec.md §3).
	MessageID         string
	SourceClientID    string
	SourceBrokerID    string
	DestinationTopic  string
	Payload           []byte
	OtherFields       map[string]string

	// Request-only.
	ReplyToTopic string
	ServiceID    string // optional: targets a specific service instance

	// Response / ErrorResponse-only.
	RequestMessageID string

	// ErrorResponse-only.
	ErrorCode    int32
	ErrorMessage string
}

// Clone returns a deep copy so callers can safely mutate OtherFields/Payload
// without racing a concurrently dispatched original.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Payload != nil {
		c.Payload = append([]byte(nil), m.Payload...)
	}
	if m.OtherFields != nil {
		c.OtherFields = make(map[string]string, len(m.OtherFields))
		for k, v := range m.OtherFields {
			c.OtherFields[k] = v
		}
	}
	return &c
}

// NewEvent builds an Event message bound for destinationTopic.
func NewEvent(messageID, sourceClientID, destinationTopic string, payload []byte) *Message {
	return &Message{
		Kind:             KindEvent,
		MessageID:        messageID,
		SourceClientID:   sourceClientID,
		DestinationTopic: destinationTopic,
		Payload:          payload,
	}
}

// NewRequest builds a Request message expecting a reply on replyToTopic.
func NewRequest(messageID, sourceClientID, destinationTopic, replyToTopic string, payload []byte) *Message {
	return &Message{
		Kind:             KindRequest,
		MessageID:        messageID,
		SourceClientID:   sourceClientID,
		DestinationTopic: destinationTopic,
		ReplyToTopic:     replyToTopic,
		Payload:          payload,
	}
}

// NewResponse builds a Response answering request.
func NewResponse(messageID, sourceClientID string, request *Message, payload []byte) *Message {
	return &Message{
		Kind:             KindResponse,
		MessageID:        messageID,
		SourceClientID:   sourceClientID,
		DestinationTopic: request.ReplyToTopic,
		RequestMessageID: request.MessageID,
		Payload:          payload,
	}
}

// NewErrorResponse builds an ErrorResponse answering request.
func NewErrorResponse(messageID, sourceClientID string, request *Message, code int32, errMsg string) *Message {
	return &Message{
		Kind:             KindErrorResponse,
		MessageID:        messageID,
		SourceClientID:   sourceClientID,
		DestinationTopic: request.ReplyToTopic,
		RequestMessageID: request.MessageID,
		ErrorCode:        code,
		ErrorMessage:     errMsg,
	}
}

// Codec encodes a Message to bytes and back. Implementations must satisfy
// decode(encode(m)) preserving MessageID, Payload, OtherFields,
// DestinationTopic, and the kind-specific fields (spec.md §8).
type Codec interface {
	Encode(m *Message) ([]byte, error)
	Decode(data []byte) (*Message, error)
}

// FabricServiceUnavailable is the well-known error code an ErrorResponse
// carries when a Request names an instanceId the service registry has no
// record of.
const FabricServiceUnavailable int32 = 100000
