package client

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// dialThroughProxy opens network to the final broker address by first
// establishing an HTTP CONNECT tunnel through proxy (spec.md §4.2, the
// wss:// + proxy transport). golang.org/x/net/proxy only speaks SOCKS5, not
// HTTP CONNECT, so the tunnel handshake itself is hand-rolled net/bufio;
// net/http is reused purely to parse the proxy's response line and headers
// rather than hand-parsing HTTP/1.1 status text.
func dialThroughProxy(proxyCfg *ProxyConfig, network, address string, timeout time.Duration) (net.Conn, error) {
	proxyAddr := net.JoinHostPort(proxyCfg.Address, fmt.Sprintf("%d", proxyCfg.Port))
	conn, err := net.DialTimeout(network, proxyAddr, timeout)
	if err != nil {
		return nil, NewConnectFailedError(1, err)
	}

	connectReq := &http.Request{
		Method: "CONNECT",
		URL:    &url.URL{Opaque: address},
		Host:   address,
		Header: make(http.Header),
	}
	if proxyCfg.User != "" {
		connectReq.SetBasicAuth(proxyCfg.User, proxyCfg.Password)
	}

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return nil, err
	}

	if err := connectReq.Write(conn); err != nil {
		conn.Close()
		return nil, err
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, connectReq)
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("proxy CONNECT to %s failed: %s", address, resp.Status)
	}

	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}

// dialTLSThroughProxy layers a TLS handshake on top of a proxy-tunneled
// connection, for ssl:// brokers reached via an HTTP CONNECT proxy.
func dialTLSThroughProxy(proxyCfg *ProxyConfig, address string, tlsConfig *tls.Config, timeout time.Duration) (net.Conn, error) {
	conn, err := dialThroughProxy(proxyCfg, "tcp", address, timeout)
	if err != nil {
		return nil, err
	}
	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return nil, err
	}
	if err := tlsConn.Handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	_ = tlsConn.SetDeadline(time.Time{})
	return tlsConn, nil
}
