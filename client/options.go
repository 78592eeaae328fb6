package client

import (
	"github.com/nexusfabric/dxlclient-go/broker"
	"github.com/nexusfabric/dxlclient-go/logx"
	"github.com/nexusfabric/dxlclient-go/message"
	"github.com/nexusfabric/dxlclient-go/types"
)

// clientOptions collects the values ClientOption functions mutate before
// NewDxlClient wires the rest of the client together.
type clientOptions struct {
	clientID  string
	codec     message.Codec
	logger    types.Logger
	transport types.FabricTransport // test-only injection point
	rankOpts  *broker.RankOptions   // test-only injection point
}

func defaultClientOptions() *clientOptions {
	return &clientOptions{
		codec:  message.JSONCodec{},
		logger: logx.NewDefaultLogger(),
	}
}

// ClientOption configures a DxlClient at construction time.
type ClientOption func(*clientOptions)

// WithClientID overrides the generated uuid client identity. Mostly useful
// for tests that need a deterministic reply topic.
func WithClientID(id string) ClientOption {
	return func(o *clientOptions) { o.clientID = id }
}

// WithCodec overrides the default JSON wire codec.
func WithCodec(codec message.Codec) ClientOption {
	return func(o *clientOptions) { o.codec = codec }
}

// WithLogger overrides the default stderr logger.
func WithLogger(logger types.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = logger }
}

// withTransport injects a transport directly, bypassing pahoTransport
// construction. Unexported: production callers configure the broker list
// and TLS/proxy settings through DxlClientConfig instead.
func withTransport(t types.FabricTransport) ClientOption {
	return func(o *clientOptions) { o.transport = t }
}

// withRankOptions injects broker.RankOptions into the internal
// connectionManager, bypassing real network probing. Unexported: only tests
// need to keep broker.Rank from dialing synthetic hostnames.
func withRankOptions(ro broker.RankOptions) ClientOption {
	return func(o *clientOptions) { o.rankOpts = &ro }
}
