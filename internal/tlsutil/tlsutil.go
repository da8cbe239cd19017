// Package tlsutil loads the PEM material used to reach a search engine over
// HTTPS: a CA file for private clusters and an optional client certificate
// bundle for PKI authentication.
package tlsutil

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// ClientBundle is a parsed client certificate bundle. CA certificates found
// in the bundle are collected into CAPool.
type ClientBundle struct {
	Certificate tls.Certificate
	ClientCert  *x509.Certificate
	CACerts     []*x509.Certificate
	CAPool      *x509.CertPool
}

// LoadCAPool reads every certificate in the PEM file at path into a pool.
func LoadCAPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	count := 0
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("ca file: parse certificate: %w", err)
		}
		pool.AddCert(cert)
		count++
	}
	if count == 0 {
		return nil, fmt.Errorf("ca file %s: no certificates found", path)
	}
	return pool, nil
}

// LoadClientBundle parses a client bundle from path.
func LoadClientBundle(path string) (*ClientBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read client bundle: %w", err)
	}
	return ParseClientBundle(data)
}

// ParseClientBundle parses a PEM bundle holding a client certificate, its
// private key, optional intermediates and optional CA certificates.
func ParseClientBundle(data []byte) (*ClientBundle, error) {
	var (
		caCerts       []*x509.Certificate
		caPool        = x509.NewCertPool()
		clientCert    *x509.Certificate
		clientCertPEM []byte
		keys          []keyBlock
	)
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("client bundle: parse certificate: %w", err)
			}
			switch {
			case cert.IsCA:
				caCerts = append(caCerts, cert)
				caPool.AddCert(cert)
			case clientCert == nil:
				clientCert = cert
				clientCertPEM = pem.EncodeToMemory(block)
			default:
				clientCertPEM = append(clientCertPEM, pem.EncodeToMemory(block)...)
			}
		case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			key, err := parsePrivateKey(block)
			if err != nil {
				return nil, fmt.Errorf("client bundle: parse private key: %w", err)
			}
			keys = append(keys, keyBlock{signer: key, pem: pem.EncodeToMemory(block)})
		}
	}
	if clientCert == nil {
		return nil, errors.New("client bundle: client certificate not found")
	}
	var keyPEM []byte
	for _, key := range keys {
		if publicKeysEqual(clientCert.PublicKey, key.signer.Public()) {
			keyPEM = key.pem
			break
		}
	}
	if keyPEM == nil {
		return nil, errors.New("client bundle: matching private key not found")
	}
	pair, err := tls.X509KeyPair(clientCertPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("client bundle: build key pair: %w", err)
	}
	bundle := &ClientBundle{
		Certificate: pair,
		ClientCert:  clientCert,
		CACerts:     caCerts,
	}
	if len(caCerts) > 0 {
		bundle.CAPool = caPool
	}
	return bundle, nil
}

// ClientConfig builds a TLS client configuration from an optional CA file
// and an optional client bundle. It returns nil when both are empty. The CA
// file takes precedence over CAs embedded in the bundle; with neither, the
// system roots apply.
func ClientConfig(caFile, bundleFile string) (*tls.Config, error) {
	if caFile == "" && bundleFile == "" {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if bundleFile != "" {
		bundle, err := LoadClientBundle(bundleFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{bundle.Certificate}
		cfg.RootCAs = bundle.CAPool
	}
	if caFile != "" {
		pool, err := LoadCAPool(caFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

type keyBlock struct {
	signer crypto.Signer
	pem    []byte
}

func parsePrivateKey(block *pem.Block) (crypto.Signer, error) {
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
			return k, nil
		}
		if k, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
			return k, nil
		}
		return nil, err
	}
	switch k := key.(type) {
	case ed25519.PrivateKey:
		return k, nil
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("unsupported private key type %T", key)
	}
}

func publicKeysEqual(a, b crypto.PublicKey) bool {
	switch ak := a.(type) {
	case ed25519.PublicKey:
		bk, ok := b.(ed25519.PublicKey)
		return ok && bytes.Equal(ak, bk)
	case *rsa.PublicKey:
		bk, ok := b.(*rsa.PublicKey)
		return ok && ak.E == bk.E && ak.N.Cmp(bk.N) == 0
	case *ecdsa.PublicKey:
		bk, ok := b.(*ecdsa.PublicKey)
		return ok && ak.Equal(bk)
	default:
		return false
	}
}
