package tlsutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testCert struct {
	cert    *x509.Certificate
	key     ed25519.PrivateKey
	certPEM []byte
	keyPEM  []byte
}

func issueTestCert(t *testing.T, cn string, parent *testCert, isCA bool) *testCert {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		t.Fatalf("serial: %v", err)
	}
	now := time.Now().UTC()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: isCA,
		IsCA:                  isCA,
	}
	if isCA {
		template.KeyUsage |= x509.KeyUsageCertSign
		template.ExtKeyUsage = nil
	}
	signerCert, signerKey := template, priv
	if parent != nil {
		signerCert, signerKey = parent.cert, parent.key
	}
	der, err := x509.CreateCertificate(rand.Reader, template, signerCert, pub, signerKey)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return &testCert{
		cert:    cert,
		key:     priv,
		certPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		keyPEM:  pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}),
	}
}

func writeFile(t *testing.T, name string, parts ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	var data []byte
	for _, p := range parts {
		data = append(data, p...)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseClientBundle(t *testing.T) {
	ca := issueTestCert(t, "search-ca", nil, true)
	leaf := issueTestCert(t, "search-client", ca, false)

	bundle, err := ParseClientBundle(append(append(append([]byte{}, ca.certPEM...), leaf.certPEM...), leaf.keyPEM...))
	if err != nil {
		t.Fatalf("parse bundle: %v", err)
	}
	if bundle.ClientCert.Subject.CommonName != "search-client" {
		t.Fatalf("unexpected client cert %q", bundle.ClientCert.Subject.CommonName)
	}
	if len(bundle.CACerts) != 1 || bundle.CAPool == nil {
		t.Fatalf("expected embedded CA to populate the pool")
	}

	noCA, err := ParseClientBundle(append(append([]byte{}, leaf.certPEM...), leaf.keyPEM...))
	if err != nil {
		t.Fatalf("parse bundle without CA: %v", err)
	}
	if noCA.CAPool != nil {
		t.Fatalf("expected nil pool without CA certificates")
	}
}

func TestParseClientBundleRejectsMismatchedKey(t *testing.T) {
	ca := issueTestCert(t, "search-ca", nil, true)
	leaf := issueTestCert(t, "search-client", ca, false)
	other := issueTestCert(t, "other", ca, false)
	if _, err := ParseClientBundle(append(append([]byte{}, leaf.certPEM...), other.keyPEM...)); err == nil {
		t.Fatalf("expected mismatched key error")
	}
	if _, err := ParseClientBundle(leaf.keyPEM); err == nil {
		t.Fatalf("expected missing certificate error")
	}
}

func TestLoadCAPoolRejectsEmptyFile(t *testing.T) {
	path := writeFile(t, "empty.pem", []byte("not pem"))
	if _, err := LoadCAPool(path); err == nil {
		t.Fatalf("expected error for file without certificates")
	}
}

func TestClientConfigTrustsCAFile(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	caFile := writeFile(t, "ca.pem", pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw}))

	cfg, err := ClientConfig(caFile, "")
	if err != nil {
		t.Fatalf("client config: %v", err)
	}
	httpClient := &http.Client{Transport: &http.Transport{TLSClientConfig: cfg}, Timeout: 5 * time.Second}
	resp, err := httpClient.Get(srv.URL)
	if err != nil {
		t.Fatalf("get over trusted TLS: %v", err)
	}
	resp.Body.Close()

	if cfg, err := ClientConfig("", ""); err != nil || cfg != nil {
		t.Fatalf("expected nil config, got %v %v", cfg, err)
	}
}
