// Package tlstest mints throwaway certificate authorities for session
// transport tests and hands the results back as ready transport settings.
package tlstest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/taigalab/taigactl/internal/protocol/session"
)

// Authority is a self-signed CA issuing short-lived P-256 leaf
// certificates into its directory.
type Authority struct {
	cert   *x509.Certificate
	key    *ecdsa.PrivateKey
	dir    string
	caFile string
}

// New creates a self-signed authority under dir.
func New(t testing.TB, dir string) *Authority {
	t.Helper()

	key := genKey(t)
	tmpl := baseTemplate("taiga test ca", nil, nil)
	tmpl.SerialNumber = big.NewInt(1)
	tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	tmpl.BasicConstraintsValid = true
	tmpl.IsCA = true
	tmpl.MaxPathLen = 1

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create ca cert: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse ca cert: %v", err)
	}

	caFile := filepath.Join(dir, "ca.crt")
	writeBlock(t, caFile, "CERTIFICATE", der, 0o644)

	return &Authority{cert: cert, key: key, dir: dir, caFile: caFile}
}

func (a *Authority) CAFile() string { return a.caFile }

// ServerTLS issues a server certificate and returns mutual-TLS server
// transport settings bound to this authority.
func (a *Authority) ServerTLS(t testing.TB, commonName string, dnsNames []string, ips []net.IP) session.TLS {
	t.Helper()
	certFile, keyFile := a.issue(t, x509.ExtKeyUsageServerAuth, commonName, dnsNames, ips)
	return session.TLS{
		Enabled:  true,
		Mutual:   true,
		CertFile: certFile,
		KeyFile:  keyFile,
		CAFile:   a.caFile,
	}
}

// ClientTLS issues a client certificate whose common name is identity
// and returns mutual-TLS client transport settings expecting serverName.
func (a *Authority) ClientTLS(t testing.TB, identity string, serverName string) session.TLS {
	t.Helper()
	certFile, keyFile := a.issue(t, x509.ExtKeyUsageClientAuth, identity, nil, nil)
	return session.TLS{
		Enabled:    true,
		Mutual:     true,
		CertFile:   certFile,
		KeyFile:    keyFile,
		CAFile:     a.caFile,
		ServerName: serverName,
	}
}

func (a *Authority) issue(t testing.TB, usage x509.ExtKeyUsage, commonName string, dnsNames []string, ips []net.IP) (string, string) {
	t.Helper()

	key := genKey(t)
	tmpl := baseTemplate(commonName, dnsNames, ips)
	tmpl.ExtKeyUsage = []x509.ExtKeyUsage{usage}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, a.cert, &key.PublicKey, a.key)
	if err != nil {
		t.Fatalf("create signed cert: %v", err)
	}

	base := sanitize(commonName)
	certFile := filepath.Join(a.dir, base+".crt")
	keyFile := filepath.Join(a.dir, base+".key")

	writeBlock(t, certFile, "CERTIFICATE", der, 0o644)
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	writeBlock(t, keyFile, "EC PRIVATE KEY", keyDER, 0o600)
	return certFile, keyFile
}

func genKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func baseTemplate(commonName string, dnsNames []string, ips []net.IP) *x509.Certificate {
	now := time.Now()
	return &x509.Certificate{
		SerialNumber: big.NewInt(now.UnixNano()),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		DNSNames:     dnsNames,
		IPAddresses:  ips,
	}
}

func writeBlock(t testing.TB, path, blockType string, der []byte, perm os.FileMode) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, perm); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "cert"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == ':' {
			return '_'
		}
		return r
	}, s)
}
