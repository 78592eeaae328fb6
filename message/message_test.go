package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCodecRoundTripEvent(t *testing.T) {
	m := NewEvent("m1", "client1", "/topic/a", []byte("hello"))
	m.OtherFields = map[string]string{"x": "y"}

	var codec JSONCodec
	data, err := codec.Encode(m)
	require.NoError(t, err)

	got, err := codec.Decode(data)
	require.NoError(t, err)

	assert.Equal(t, m.MessageID, got.MessageID)
	assert.Equal(t, m.Payload, got.Payload)
	assert.Equal(t, m.OtherFields, got.OtherFields)
	assert.Equal(t, m.DestinationTopic, got.DestinationTopic)
	assert.Equal(t, KindEvent, got.Kind)
}

func TestJSONCodecRoundTripRequestResponse(t *testing.T) {
	var codec JSONCodec

	req := NewRequest("req1", "client1", "/svc/topic", "/mcafee/client/client1", []byte("ping"))
	req.ServiceID = "instance-1"

	data, err := codec.Encode(req)
	require.NoError(t, err)
	gotReq, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, req.ReplyToTopic, gotReq.ReplyToTopic)
	assert.Equal(t, req.ServiceID, gotReq.ServiceID)

	resp := NewResponse("resp1", "client2", req, []byte("pong"))
	data, err = codec.Encode(resp)
	require.NoError(t, err)
	gotResp, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, req.MessageID, gotResp.RequestMessageID)
	assert.Equal(t, KindResponse, gotResp.Kind)

	errResp := NewErrorResponse("resp2", "client2", req, 9090, "My error")
	data, err = codec.Encode(errResp)
	require.NoError(t, err)
	gotErr, err := codec.Decode(data)
	require.NoError(t, err)
	assert.EqualValues(t, 9090, gotErr.ErrorCode)
	assert.Equal(t, "My error", gotErr.ErrorMessage)
	assert.Equal(t, KindErrorResponse, gotErr.Kind)
}

func TestCloneIsIndependent(t *testing.T) {
	m := NewEvent("m1", "c1", "/t", []byte("abc"))
	m.OtherFields = map[string]string{"a": "1"}

	c := m.Clone()
	c.Payload[0] = 'z'
	c.OtherFields["a"] = "2"

	assert.Equal(t, byte('a'), m.Payload[0])
	assert.Equal(t, "1", m.OtherFields["a"])
}
