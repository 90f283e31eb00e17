// Package tlsconfig loads the server's certificate and (optionally
// password-protected) private key from disk. Certificate loading itself is
// explicitly out of scope for the core pipeline (spec.md §1 names it as an
// external collaborator, not re-specified), so this stays a thin wrapper
// around the standard library rather than a reimplemented concern.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
)

// LoadServerCertificate reads certFile/keyFile and returns a tls.Certificate
// ready for tls.Config.Certificates. If keyPasswordFile or keyPassword is
// set, the private key PEM block is decrypted with it before parsing.
func LoadServerCertificate(certFile, keyFile, keyPasswordFile, keyPassword string) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsconfig: read cert: %w", err)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsconfig: read key: %w", err)
	}

	password := keyPassword
	if keyPasswordFile != "" {
		data, err := os.ReadFile(keyPasswordFile)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("tlsconfig: read key password file: %w", err)
		}
		password = strings.TrimSpace(string(data))
	}

	if password != "" {
		keyPEM, err = decryptPEM(keyPEM, password)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("tlsconfig: decrypt key: %w", err)
		}
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsconfig: parse key pair: %w", err)
	}
	return cert, nil
}

// decryptPEM decrypts a legacy encrypted PEM private key block.
func decryptPEM(keyPEM []byte, password string) ([]byte, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in key")
	}
	if !x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck // legacy format still shipped by some CA tooling
		return keyPEM, nil
	}
	der, err := x509.DecryptPEMBlock(block, []byte(password)) //nolint:staticcheck
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
}
