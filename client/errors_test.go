package client

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMalformedBrokerError(t *testing.T) {
	cause := errors.New("bad port")
	err := NewMalformedBrokerError("could not parse broker entry", cause)

	var e *Error
	assert.True(t, errors.As(err, &e))
	assert.Equal(t, KindMalformedBroker, e.Kind())
	assert.True(t, errors.Is(err, cause))
}

func TestConfigError(t *testing.T) {
	cause := errors.New("file not found")
	err := NewConfigError("failed to read config file", cause)

	var e *Error
	assert.True(t, errors.As(err, &e))
	assert.Equal(t, KindConfigError, e.Kind())
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestConnectFailedErrorCarriesAttempts(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := NewConnectFailedError(5, cause)

	var cfe *ConnectFailedError
	assert.True(t, errors.As(err, &cfe))
	assert.Equal(t, 5, cfe.Attempts)
	assert.Equal(t, KindConnectFailed, cfe.Kind())
	assert.True(t, errors.Is(err, cause))
}

func TestWaitTimeoutError(t *testing.T) {
	err := NewWaitTimeoutError("syncRequest", 30*time.Second)

	var wte *WaitTimeoutError
	assert.True(t, errors.As(err, &wte))
	assert.Equal(t, "syncRequest", wte.Operation)
	assert.Equal(t, 30*time.Second, wte.Waited)
	assert.Equal(t, KindWaitTimeout, wte.Kind())
}

func TestServiceUnknownError(t *testing.T) {
	err := NewServiceUnknownError("instance-123")

	var sue *ServiceUnknownError
	assert.True(t, errors.As(err, &sue))
	assert.Equal(t, "instance-123", sue.InstanceID)
	assert.Equal(t, KindServiceUnknown, sue.Kind())
}

func TestServiceAlreadyRegisteredError(t *testing.T) {
	err := NewServiceAlreadyRegisteredError("instance-123")

	var sare *ServiceAlreadyRegisteredError
	assert.True(t, errors.As(err, &sare))
	assert.Equal(t, "instance-123", sare.InstanceID)
	assert.Equal(t, KindServiceAlreadyRegistered, sare.Kind())
}

func TestSentinelErrors(t *testing.T) {
	assert.Equal(t, KindNotConnected, ErrNotConnected.Kind())
	assert.Equal(t, KindNotInitialized, ErrNotInitialized.Kind())
	assert.Equal(t, KindWrongThread, ErrWrongThread.Kind())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "ConnectFailed", KindConnectFailed.String())
	assert.Equal(t, "Unknown", Kind(999).String())
}
