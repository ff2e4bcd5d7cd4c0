package config

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoKeystore is returned by TLSConfig when no keystore is configured.
var ErrNoKeystore = errors.New("keystore_file not configured")

// TrustPool returns a pool holding every PEM certificate found in
// TrustCertsDir, or nil when no directory is configured.
func (c *ServerConfig) TrustPool() (*x509.CertPool, error) {
	if c.TrustCertsDir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(c.TrustCertsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read trust certs: %w", err)
	}

	pool := x509.NewCertPool()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".pem", ".crt", ".cer":
		default:
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.TrustCertsDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read trust cert %s: %w", e.Name(), err)
		}
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("no certificates in %s", e.Name())
		}
	}
	return pool, nil
}

// TLSConfig builds a server TLS configuration from the keystore. Client
// certificates signed by the trust pool are verified when presented.
func (c *ServerConfig) TLSConfig() (*tls.Config, error) {
	if c.KeystoreFile == "" {
		return nil, ErrNoKeystore
	}

	cert, err := c.loadKeystore()
	if err != nil {
		return nil, err
	}

	tc := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	pool, err := c.TrustPool()
	if err != nil {
		return nil, err
	}
	if pool != nil {
		tc.ClientCAs = pool
		tc.ClientAuth = tls.VerifyClientCertIfGiven
	}
	return tc, nil
}

// loadKeystore splits the PEM bundle into certificates and key, decrypting
// a legacy encrypted key with KeystorePassword.
func (c *ServerConfig) loadKeystore() (tls.Certificate, error) {
	data, err := os.ReadFile(c.KeystoreFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read keystore: %w", err)
	}

	var certPEM, keyPEM []byte
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			certPEM = append(certPEM, pem.EncodeToMemory(block)...)
			continue
		}
		//nolint:staticcheck // legacy encrypted keys are still found in keystores
		if x509.IsEncryptedPEMBlock(block) {
			der, err := x509.DecryptPEMBlock(block, []byte(c.KeystorePassword))
			if err != nil {
				return tls.Certificate{}, fmt.Errorf("failed to decrypt keystore key: %w", err)
			}
			block = &pem.Block{Type: block.Type, Bytes: der}
		}
		keyPEM = append(keyPEM, pem.EncodeToMemory(block)...)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("invalid keystore %s: %w", c.KeystoreFile, err)
	}
	return cert, nil
}
