package client

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/ini.v1"

	"github.com/nexusfabric/dxlclient-go/broker"
)

// Well-known topics (spec.md §6).
const (
	ReplyTopicPrefix              = "/mcafee/client/"
	ServiceRegisterRequestTopic   = "/mcafee/service/dxl/svcregistry/register"
	ServiceUnregisterRequestTopic = "/mcafee/service/dxl/svcregistry/unregister"
	BrokerRegistryQueryTopic      = "/mcafee/service/dxl/brokerregistry/query"
)

// CertPaths locates the PEM material used to build the TLS/transport
// factory (spec.md §4.2).
type CertPaths struct {
	BrokerCertChain string
	CertFile        string
	PrivateKey      string
}

// ProxyConfig describes an optional HTTP-CONNECT proxy used for the wss://
// transport (spec.md §4.2, §6).
type ProxyConfig struct {
	Address  string
	Port     int
	User     string
	Password string
}

func (p *ProxyConfig) configured() bool { return p != nil && p.Address != "" }

// Tunables holds every "Environment / system properties" entry from
// spec.md §6, each independently overridable via an environment variable.
type Tunables struct {
	ConnectRetries                int           `env:"DXL_CONNECT_RETRIES" envDefault:"-1"`
	ReconnectDelay                time.Duration `env:"DXL_RECONNECT_DELAY" envDefault:"1s"`
	ReconnectBackOffMultiplier    float64       `env:"DXL_RECONNECT_BACKOFF_MULTIPLIER" envDefault:"2.0"`
	ReconnectDelayMax             time.Duration `env:"DXL_RECONNECT_DELAY_MAX" envDefault:"60s"`
	ReconnectDelayRandom          float64       `env:"DXL_RECONNECT_DELAY_RANDOM" envDefault:"0.25"`
	DefaultRequestWait            time.Duration `env:"DXL_DEFAULT_REQUEST_WAIT" envDefault:"1m"`
	BrokerConnectTimeout          time.Duration `env:"DXL_BROKER_CONNECT_TIMEOUT" envDefault:"10s"`
	KeepAliveInterval             time.Duration `env:"DXL_KEEP_ALIVE_INTERVAL" envDefault:"30m"`
	IncomingMessageThreadPoolSize int           `env:"DXL_INCOMING_MESSAGE_THREAD_POOL_SIZE" envDefault:"1"`
	IncomingMessageQueueSize      int           `env:"DXL_INCOMING_MESSAGE_QUEUE_SIZE" envDefault:"16384"`
	ServiceTTLGracePeriod         time.Duration `env:"DXL_SERVICE_TTL_GRACE_PERIOD" envDefault:"10m"`
	ServiceTTLDefault             int           `env:"DXL_SERVICE_TTL_DEFAULT" envDefault:"60"`
	ServiceTTLLowerLimit          int           `env:"DXL_SERVICE_TTL_LOWER_LIMIT" envDefault:"1"`
	ServiceTTLResolution          string        `env:"DXL_SERVICE_TTL_RESOLUTION" envDefault:"min"`
	AsyncCallbackCheckInterval    time.Duration `env:"DXL_ASYNC_CALLBACK_CHECK_INTERVAL" envDefault:"5m"`
	DisableDisconnectedStrategy   bool          `env:"DXL_DISABLE_DISCONNECTED_STRATEGY" envDefault:"false"`
	DisconnectWait                time.Duration `env:"DXL_DISCONNECT_WAIT" envDefault:"60s"`
}

// ttlResolutionSeconds returns 60 for "min" and 1 for "sec" (spec.md §4.7,
// the testing shortcut).
func (t Tunables) ttlResolutionSeconds() int {
	if strings.EqualFold(t.ServiceTTLResolution, "sec") {
		return 1
	}
	return 60
}

// DxlClientConfig is the parsed, ready-to-use configuration for a Client:
// TLS material, the (possibly two, ssl+wss) broker lists, the optional
// proxy, and the tunables. Construct via LoadConfigFile, or via NewConfig
// and then set the exported fields directly.
type DxlClientConfig struct {
	Certs             CertPaths
	Brokers           []*broker.Broker
	BrokersWebSockets []*broker.Broker
	UseWebSockets     bool
	Proxy             *ProxyConfig
	Tunables          Tunables
}

// NewConfig builds a DxlClientConfig from explicit cert paths, reading
// Tunables defaults from the environment.
func NewConfig(certs CertPaths) (*DxlClientConfig, error) {
	tun := Tunables{}
	if err := env.Parse(&tun); err != nil {
		return nil, NewConfigError("failed to parse environment tunables", err)
	}
	return &DxlClientConfig{Certs: certs, Tunables: tun}, nil
}

// LoadConfigFile parses the INI-like config format from spec.md §6. Paths
// under [Certs] that are relative are resolved against the directory
// containing path.
func LoadConfigFile(path string) (*DxlClientConfig, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, NewConfigError(fmt.Sprintf("failed to read config file %q", path), err)
	}
	base := filepath.Dir(path)

	cfg := &DxlClientConfig{}

	certsSection := f.Section("Certs")
	cfg.Certs = CertPaths{
		BrokerCertChain: resolvePath(base, certsSection.Key("BrokerCertChain").String()),
		CertFile:        resolvePath(base, certsSection.Key("CertFile").String()),
		PrivateKey:      resolvePath(base, certsSection.Key("PrivateKey").String()),
	}

	brokers, err := parseBrokerSection(f, "Brokers", broker.ProtocolSSL)
	if err != nil {
		return nil, err
	}
	cfg.Brokers = brokers

	if f.HasSection("BrokersWebSockets") {
		wsBrokers, err := parseBrokerSection(f, "BrokersWebSockets", broker.ProtocolWSS)
		if err != nil {
			return nil, err
		}
		cfg.BrokersWebSockets = wsBrokers
	}

	cfg.UseWebSockets = f.Section("").Key("UseWebSockets").MustBool(false)

	if f.HasSection("Proxy") {
		proxySection := f.Section("Proxy")
		port, _ := strconv.Atoi(proxySection.Key("Port").String())
		cfg.Proxy = &ProxyConfig{
			Address:  proxySection.Key("Address").String(),
			Port:     port,
			User:     proxySection.Key("User").String(),
			Password: proxySection.Key("Password").String(),
		}
	}

	tun := Tunables{}
	if err := env.Parse(&tun); err != nil {
		return nil, NewConfigError("failed to parse environment tunables", err)
	}
	cfg.Tunables = tun

	return cfg, nil
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func parseBrokerSection(f *ini.File, section string, proto broker.Protocol) ([]*broker.Broker, error) {
	keys := f.Section(section).Keys()
	out := make([]*broker.Broker, 0, len(keys))
	for _, k := range keys {
		b, err := broker.Parse(k.String())
		if err != nil {
			return nil, NewConfigError(fmt.Sprintf("invalid broker entry %q in [%s]", k.Name(), section), err)
		}
		b.Protocol = proto
		out = append(out, b)
	}
	return out, nil
}

// ActiveBrokers returns the broker list this config currently connects
// through: BrokersWebSockets when UseWebSockets is set (falling back to
// Brokers if none were configured), Brokers otherwise.
func (c *DxlClientConfig) ActiveBrokers() []*broker.Broker {
	if c.UseWebSockets && len(c.BrokersWebSockets) > 0 {
		return c.BrokersWebSockets
	}
	return c.Brokers
}
