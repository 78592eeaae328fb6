package client

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
)

// buildTLSConfig assembles the client-side tls.Config from the three PEM
// artifacts named by CertPaths (spec.md §4.2): a CA bundle trusted to
// verify the broker's certificate, and a client certificate/key pair used
// for mutual authentication. CertFile and PrivateKey may both be empty,
// in which case the fabric connection presents no client certificate.
func buildTLSConfig(certs CertPaths) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if certs.BrokerCertChain != "" {
		pool, err := loadCertPool(certs.BrokerCertChain)
		if err != nil {
			return nil, NewConfigError("failed to load broker CA chain", err)
		}
		cfg.RootCAs = pool
	}

	if certs.CertFile != "" || certs.PrivateKey != "" {
		if certs.CertFile == "" || certs.PrivateKey == "" {
			return nil, NewConfigError("both CertFile and PrivateKey must be set for client authentication", nil)
		}
		cert, err := loadClientCertificate(certs.CertFile, certs.PrivateKey)
		if err != nil {
			return nil, NewConfigError("failed to load client certificate/key", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// loadCertPool reads a PEM file holding one or more CA certificates
// (a bundle, as produced by most fabric broker deployments) and returns a
// pool trusting all of them.
func loadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, &Error{kind: KindConfigError, Message: "no certificates found in CA bundle"}
	}
	return pool, nil
}

// loadClientCertificate builds a tls.Certificate from a PEM certificate
// file and a PEM private key file. The key may be PKCS#1 or PKCS#8 encoded
// (tls.X509KeyPair already handles both); this wrapper only exists to give
// a consistent, taxonomy-tagged error on failure.
func loadClientCertificate(certFile, keyFile string) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	if block, _ := pem.Decode(keyPEM); block == nil {
		return tls.Certificate{}, &Error{kind: KindConfigError, Message: "private key file does not contain PEM data"}
	}
	return tls.X509KeyPair(certPEM, keyPEM)
}
