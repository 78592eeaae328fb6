package message

import "encoding/json"

// JSONCodec is a default Codec good enough for tests and simple
// deployments. Production fabrics are expected to supply their own
// (binary) codec; the core treats encode/decode as an opaque contract.
type JSONCodec struct{}

type wireMessage struct {
	Kind              Kind              `json:"kind"`
	MessageID         string            `json:"messageId"`
	SourceClientID    string            `json:"sourceClientId"`
	SourceBrokerID    string            `json:"sourceBrokerId,omitempty"`
	DestinationTopic  string            `json:"destinationTopic,omitempty"`
	Payload           []byte            `json:"payload,omitempty"`
	OtherFields       map[string]string `json:"otherFields,omitempty"`
	ReplyToTopic      string            `json:"replyToTopic,omitempty"`
	ServiceID         string            `json:"serviceId,omitempty"`
	RequestMessageID  string            `json:"requestMessageId,omitempty"`
	ErrorCode         int32             `json:"errorCode,omitempty"`
	ErrorMessage      string            `json:"errorMessage,omitempty"`
}

func (JSONCodec) Encode(m *Message) ([]byte, error) {
	w := wireMessage{
		Kind:             m.Kind,
		MessageID:        m.MessageID,
		SourceClientID:   m.SourceClientID,
		SourceBrokerID:   m.SourceBrokerID,
		DestinationTopic: m.DestinationTopic,
		Payload:          m.Payload,
		OtherFields:      m.OtherFields,
		ReplyToTopic:     m.ReplyToTopic,
		ServiceID:        m.ServiceID,
		RequestMessageID: m.RequestMessageID,
		ErrorCode:        m.ErrorCode,
		ErrorMessage:     m.ErrorMessage,
	}
	return json.Marshal(w)
}

func (JSONCodec) Decode(data []byte) (*Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &Message{
		Kind:             w.Kind,
		MessageID:        w.MessageID,
		SourceClientID:   w.SourceClientID,
		SourceBrokerID:   w.SourceBrokerID,
		DestinationTopic: w.DestinationTopic,
		Payload:          w.Payload,
		OtherFields:      w.OtherFields,
		ReplyToTopic:     w.ReplyToTopic,
		ServiceID:        w.ServiceID,
		RequestMessageID: w.RequestMessageID,
		ErrorCode:        w.ErrorCode,
		ErrorMessage:     w.ErrorMessage,
	}, nil
}

var _ Codec = JSONCodec{}
