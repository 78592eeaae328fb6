package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
UseWebSockets=true

[Certs]
BrokerCertChain=certs/ca-bundle.crt
CertFile=certs/client.crt
PrivateKey=certs/client.key

[Brokers]
broker1=broker1;8883;broker1.example.com;10.1.1.1
broker2=broker2;8883;broker2.example.com

[BrokersWebSockets]
wsbroker1=wsbroker1;443;ws-broker1.example.com

[Proxy]
Address=proxy.example.com
Port=3128
User=proxyuser
Password=proxypass
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dxlclient.config")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfigFileParsesAllSections(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)

	dir := filepath.Dir(path)
	assert.Equal(t, filepath.Join(dir, "certs/ca-bundle.crt"), cfg.Certs.BrokerCertChain)
	assert.Equal(t, filepath.Join(dir, "certs/client.crt"), cfg.Certs.CertFile)
	assert.Equal(t, filepath.Join(dir, "certs/client.key"), cfg.Certs.PrivateKey)

	require.Len(t, cfg.Brokers, 2)
	require.Len(t, cfg.BrokersWebSockets, 1)
	assert.True(t, cfg.UseWebSockets)

	require.NotNil(t, cfg.Proxy)
	assert.Equal(t, "proxy.example.com", cfg.Proxy.Address)
	assert.Equal(t, 3128, cfg.Proxy.Port)
	assert.Equal(t, "proxyuser", cfg.Proxy.User)

	assert.Equal(t, cfg.BrokersWebSockets, cfg.ActiveBrokers())
}

func TestLoadConfigFileWithoutOptionalSections(t *testing.T) {
	path := writeTempConfig(t, `
[Certs]
BrokerCertChain=ca.crt
CertFile=client.crt
PrivateKey=client.key

[Brokers]
b1=b1;8883;broker.example.com
`)
	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Nil(t, cfg.Proxy)
	assert.Empty(t, cfg.BrokersWebSockets)
	assert.False(t, cfg.UseWebSockets)
	assert.Equal(t, cfg.Brokers, cfg.ActiveBrokers())
}

func TestLoadConfigFileRejectsMalformedBroker(t *testing.T) {
	path := writeTempConfig(t, `
[Certs]
BrokerCertChain=ca.crt
CertFile=client.crt
PrivateKey=client.key

[Brokers]
bad=not-a-valid-broker-line
`)
	_, err := LoadConfigFile(path)
	assert.Error(t, err)
}

func TestTunablesEnvOverride(t *testing.T) {
	t.Setenv("DXL_SERVICE_TTL_RESOLUTION", "sec")
	t.Setenv("DXL_CONNECT_RETRIES", "5")

	cfg, err := NewConfig(CertPaths{})
	require.NoError(t, err)
	assert.Equal(t, "sec", cfg.Tunables.ServiceTTLResolution)
	assert.Equal(t, 5, cfg.Tunables.ConnectRetries)
	assert.Equal(t, 1, cfg.Tunables.ttlResolutionSeconds())
}
