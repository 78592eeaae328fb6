// Package broker models a fabric broker endpoint, its config-string
// parsing, and latency-based ranking.
package broker

import (
	"fmt"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Protocol identifies the wire scheme a Broker is reached over.
type Protocol string

const (
	ProtocolSSL Protocol = "ssl"
	ProtocolWSS Protocol = "wss"
)

// Broker represents one fabric broker endpoint. The zero value is not
// meaningful; construct via Parse or New. ResponseTime and
// ResponseFromIPAddress are written only by Rank.
type Broker struct {
	UniqueID  string
	HostName  string
	IPAddress string // empty if unknown
	Port      int
	Protocol  Protocol

	ResponseTime          time.Duration // -1 means "absent"
	ResponseFromIPAddress bool
}

// NoResponse is the sentinel ResponseTime for a broker that has not been
// probed, or was probed and did not answer.
const NoResponse time.Duration = -1

// New builds a Broker defaulting Protocol to ssl and ResponseTime to absent.
func New(uniqueID, hostName, ipAddress string, port int) *Broker {
	return &Broker{
		UniqueID:     uniqueID,
		HostName:     hostName,
		IPAddress:    ipAddress,
		Port:         port,
		Protocol:     ProtocolSSL,
		ResponseTime: NoResponse,
	}
}

// Equal implements the spec's identity rule: two Brokers are equal iff
// (UniqueID, HostName, IPAddress, Port) match. Protocol and measured
// latency are not part of identity.
func (b *Broker) Equal(o *Broker) bool {
	if b == nil || o == nil {
		return b == o
	}
	return b.UniqueID == o.UniqueID &&
		b.HostName == o.HostName &&
		b.IPAddress == o.IPAddress &&
		b.Port == o.Port
}

// HasResponse reports whether Rank produced a latency measurement.
func (b *Broker) HasResponse() bool { return b.ResponseTime >= 0 }

// URIs returns the broker URIs later connect attempts may try, in
// preference order. A ranked (probed-and-answered) broker yields exactly
// one URI, built from whichever address answered. An unranked broker
// yields both the hostname-URI and the ip-URI (when an IP is known) so a
// later connect attempt can try either (spec.md §4.1).
func (b *Broker) URIs() []string {
	scheme := string(b.Protocol)
	if scheme == "" {
		scheme = string(ProtocolSSL)
	}
	hostURI := fmt.Sprintf("%s://%s:%d", scheme, hostForURI(b.HostName), b.Port)
	if !b.HasResponse() {
		uris := []string{hostURI}
		if b.IPAddress != "" {
			uris = append(uris, fmt.Sprintf("%s://%s:%d", scheme, hostForURI(b.IPAddress), b.Port))
		}
		return uris
	}
	if b.ResponseFromIPAddress && b.IPAddress != "" {
		return []string{fmt.Sprintf("%s://%s:%d", scheme, hostForURI(b.IPAddress), b.Port)}
	}
	return []string{hostURI}
}

// hostForURI re-adds IPv6 brackets stripped during Parse.
func hostForURI(host string) string {
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		return "[" + host + "]"
	}
	return host
}

// ToConfigString renders the Broker back into the Parse format:
// UniqueId;Port;HostName[;IpAddress].
func (b *Broker) ToConfigString() string {
	parts := []string{b.UniqueID, strconv.Itoa(b.Port), hostForURI(b.HostName)}
	if b.IPAddress != "" {
		parts = append(parts, hostForURI(b.IPAddress))
	}
	return strings.Join(parts, ";")
}

var (
	ipv4Re   = regexp.MustCompile(`^(25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)(\.(25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)){3}$`)
	dnsLabel = `[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?`
	hostRe   = regexp.MustCompile(`^(` + dnsLabel + `\.)*` + dnsLabel + `$`)
	// NetBIOS names: up to 15 chars, letters/digits/hyphen/underscore, may not start with hyphen.
	netbiosRe = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_-]{0,14}$`)
)

// MalformedBrokerError indicates Parse rejected its input.
type MalformedBrokerError struct {
	Input  string
	Reason string
}

func (e *MalformedBrokerError) Error() string {
	return fmt.Sprintf("malformed broker %q: %s", e.Input, e.Reason)
}

// Parse accepts "UniqueId;Port;HostName[;IpAddress]". IPv6 literals may be
// wrapped in [] in either the HostName or IpAddress position; brackets are
// stripped on parse.
func Parse(s string) (*Broker, error) {
	if strings.TrimSpace(s) == "" {
		return nil, &MalformedBrokerError{Input: s, Reason: "blank input"}
	}
	fields := strings.Split(s, ";")
	if len(fields) < 3 || len(fields) > 4 {
		return nil, &MalformedBrokerError{Input: s, Reason: "expected 3 or 4 fields separated by ';'"}
	}
	uniqueID := strings.TrimSpace(fields[0])
	portStr := strings.TrimSpace(fields[1])
	hostName := stripBrackets(strings.TrimSpace(fields[2]))
	ipAddress := ""
	if len(fields) == 4 {
		ipAddress = stripBrackets(strings.TrimSpace(fields[3]))
	}

	if uniqueID == "" {
		return nil, &MalformedBrokerError{Input: s, Reason: "missing UniqueId"}
	}
	if hostName == "" {
		return nil, &MalformedBrokerError{Input: s, Reason: "missing HostName"}
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, &MalformedBrokerError{Input: s, Reason: "port is not numeric"}
	}
	if port < 1 || port > 65535 {
		return nil, &MalformedBrokerError{Input: s, Reason: "port out of range 1..65535"}
	}

	if !isValidHost(hostName) {
		return nil, &MalformedBrokerError{Input: s, Reason: "invalid HostName"}
	}
	if ipAddress != "" && !isValidHost(ipAddress) {
		return nil, &MalformedBrokerError{Input: s, Reason: "invalid IpAddress"}
	}

	return &Broker{
		UniqueID:     uniqueID,
		HostName:     hostName,
		IPAddress:    ipAddress,
		Port:         port,
		Protocol:     ProtocolSSL,
		ResponseTime: NoResponse,
	}, nil
}

func stripBrackets(s string) string {
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		return s[1 : len(s)-1]
	}
	return s
}

// isValidHost accepts IPv4 dotted-quad, IPv6 (via net.ParseIP), DNS labels,
// or NetBIOS-style short names.
func isValidHost(h string) bool {
	if h == "" {
		return false
	}
	if ipv4Re.MatchString(h) {
		return true
	}
	if ip := net.ParseIP(h); ip != nil {
		return true
	}
	if hostRe.MatchString(h) {
		return true
	}
	return netbiosRe.MatchString(h)
}

// byLatency sorts ascending by ResponseTime, with absent (NoResponse)
// sorted last; ties keep input order.
type byLatency []*Broker

func (b byLatency) Len() int      { return len(b) }
func (b byLatency) Swap(i, j int) { b[i], b[j] = b[j], b[i] }
func (b byLatency) Less(i, j int) bool {
	ri, rj := b[i].ResponseTime, b[j].ResponseTime
	if !b[i].HasResponse() {
		return false
	}
	if !b[j].HasResponse() {
		return true
	}
	return ri < rj
}

// RankOptions tunes Rank's probing behavior.
type RankOptions struct {
	Concurrency int           // bounded worker pool size, default 20
	Timeout     time.Duration // per-attempt TCP connect timeout, default 500ms
	Dial        func(network, address string, timeout time.Duration) (net.Conn, error)
}

func (o RankOptions) withDefaults() RankOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = 20
	}
	if o.Timeout <= 0 {
		o.Timeout = 500 * time.Millisecond
	}
	if o.Dial == nil {
		o.Dial = net.DialTimeout
	}
	return o
}

// Rank attempts a TCP connect to each broker's HostName (falling back to
// IPAddress if the hostname attempt fails) using a bounded worker pool, and
// returns the brokers sorted ascending by measured latency with unranked
// brokers appended after. Rank does not hold any caller lock; it owns no
// state beyond its local worker pool.
func Rank(brokers []*Broker, opts RankOptions) []*Broker {
	opts = opts.withDefaults()

	out := make([]*Broker, len(brokers))
	copy(out, brokers)

	sem := make(chan struct{}, opts.Concurrency)
	var wg sync.WaitGroup
	for _, b := range out {
		wg.Add(1)
		go func(b *Broker) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			probeOne(b, opts)
		}(b)
	}
	wg.Wait()

	sort.Stable(byLatency(out))
	return out
}

func probeOne(b *Broker, opts RankOptions) {
	start := time.Now()
	addr := net.JoinHostPort(b.HostName, strconv.Itoa(b.Port))
	if conn, err := opts.Dial("tcp", addr, opts.Timeout); err == nil {
		conn.Close()
		b.ResponseTime = time.Since(start)
		b.ResponseFromIPAddress = false
		return
	}
	if b.IPAddress == "" {
		b.ResponseTime = NoResponse
		return
	}
	start = time.Now()
	addr = net.JoinHostPort(b.IPAddress, strconv.Itoa(b.Port))
	if conn, err := opts.Dial("tcp", addr, opts.Timeout); err == nil {
		conn.Close()
		b.ResponseTime = time.Since(start)
		b.ResponseFromIPAddress = true
		return
	}
	b.ResponseTime = NoResponse
}
