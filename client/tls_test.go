package client

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func generateTestCertPEM(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	keyDER, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	return
}

func TestBuildTLSConfigWithCAAndClientCert(t *testing.T) {
	certPEM, keyPEM := generateTestCertPEM(t)
	dir := t.TempDir()

	caPath := filepath.Join(dir, "ca.crt")
	certPath := filepath.Join(dir, "client.crt")
	keyPath := filepath.Join(dir, "client.key")
	require.NoError(t, os.WriteFile(caPath, certPEM, 0o600))
	require.NoError(t, os.WriteFile(certPath, certPEM, 0o600))
	require.NoError(t, os.WriteFile(keyPath, keyPEM, 0o600))

	cfg, err := buildTLSConfig(CertPaths{BrokerCertChain: caPath, CertFile: certPath, PrivateKey: keyPath})
	require.NoError(t, err)
	require.NotNil(t, cfg.RootCAs)
	require.Len(t, cfg.Certificates, 1)
}

func TestBuildTLSConfigWithNoCerts(t *testing.T) {
	cfg, err := buildTLSConfig(CertPaths{})
	require.NoError(t, err)
	require.Nil(t, cfg.RootCAs)
	require.Empty(t, cfg.Certificates)
}

func TestBuildTLSConfigRejectsPartialClientCert(t *testing.T) {
	_, err := buildTLSConfig(CertPaths{CertFile: "/tmp/only-cert.pem"})
	require.Error(t, err)
}

func TestBuildTLSConfigRejectsMissingCAFile(t *testing.T) {
	_, err := buildTLSConfig(CertPaths{BrokerCertChain: "/no/such/file.pem"})
	require.Error(t, err)
}
