package main

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
)

// caBundleRelPath is where the CA bundle lives under the installation
// root, matching the server distribution layout.
const caBundleRelPath = "share/h2o/ca-bundle.crt"

// defaultRoot is used when H2O_ROOT is unset. Overridable at link time.
var defaultRoot = "/usr/local"

// rootCAs loads the distribution CA bundle. A nil pool falls back to the
// host's trust store.
func rootCAs() *x509.CertPool {
	root := os.Getenv("H2O_ROOT")
	if root == "" {
		root = defaultRoot
	}
	pem, err := os.ReadFile(filepath.Join(root, caBundleRelPath))
	if err != nil {
		return nil
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil
	}
	return pool
}

var tlsLoadX509KeyPair = tls.LoadX509KeyPair

// readClientCert - helper function to read client certificate
// from pem formatted certPath and keyPath files
func readClientCert(certPath, keyPath string) ([]tls.Certificate, error) {
	if certPath != "" && keyPath != "" {
		// load keypair
		cert, err := tlsLoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, err
		}

		return []tls.Certificate{cert}, nil
	}
	return nil, nil
}

// generateTLSConfig - helper function to generate a TLS configuration based on
// config
func generateTLSConfig(c config) (*tls.Config, error) {
	certs, err := readClientCert(c.certPath, c.keyPath)
	if err != nil {
		return nil, err
	}
	// Disable gas warning, because InsecureSkipVerify may be set to true
	// for the purpose of testing
	/* #nosec */
	tlsConfig := &tls.Config{
		RootCAs:            rootCAs(),
		InsecureSkipVerify: c.insecure,
		Certificates:       certs,
	}
	return tlsConfig, nil
}
