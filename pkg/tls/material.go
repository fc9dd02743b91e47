package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Errors returned while loading TLS material.
var (
	ErrMissingKeyPair   = errors.New("tls: certFile and keyFile are required")
	ErrEmptyTrustStore  = errors.New("tls: trust store contains no certificates")
	ErrUnknownCipher    = errors.New("tls: unknown cipher suite")
	ErrUnknownProtocol  = errors.New("tls: unknown protocol version")
	ErrBadKeyPassword   = errors.New("tls: cannot decrypt private key")
	ErrNoPEMKey         = errors.New("tls: no PEM private key found")
	ErrClientCertNoRoot = errors.New("tls: requireClientCert needs a trustStoreFile")
)

// Material is the TLS configuration of a secure listener.
type Material struct {
	CertFile          string   `json:"certFile" yaml:"certFile"`
	KeyFile           string   `json:"keyFile" yaml:"keyFile"`
	KeyPassword       string   `json:"keyPassword,omitempty" yaml:"keyPassword,omitempty"`
	TrustStoreFile    string   `json:"trustStoreFile,omitempty" yaml:"trustStoreFile,omitempty"`
	CipherSuites      []string `json:"cipherSuites,omitempty" yaml:"cipherSuites,omitempty"`
	Protocols         []string `json:"protocols,omitempty" yaml:"protocols,omitempty"`
	RequireClientCert bool     `json:"requireClientCert,omitempty" yaml:"requireClientCert,omitempty"`
}

// Validate checks the fields that can be checked without reading files.
func (m *Material) Validate() error {
	if m == nil || m.CertFile == "" || m.KeyFile == "" {
		return ErrMissingKeyPair
	}
	if m.RequireClientCert && m.TrustStoreFile == "" {
		return ErrClientCertNoRoot
	}
	if _, err := cipherSuiteIDs(m.CipherSuites); err != nil {
		return err
	}
	if _, _, err := versionRange(m.Protocols); err != nil {
		return err
	}
	return nil
}

// ServerConfig loads the key pair and trust store and returns a server
// tls.Config.
func (m *Material) ServerConfig() (*tls.Config, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	cert, err := m.keyPair()
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if err := m.apply(cfg); err != nil {
		return nil, err
	}
	if m.TrustStoreFile != "" {
		pool, err := loadPool(m.TrustStoreFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
		if m.RequireClientCert {
			cfg.ClientAuth = tls.RequireAndVerifyClientCert
		}
	}
	return cfg, nil
}

// ClientConfig returns a client tls.Config trusting the trust store (or the
// listener's own certificate when no trust store is set). The key pair is
// presented as the client certificate when present.
func (m *Material) ClientConfig() (*tls.Config, error) {
	if m == nil {
		return nil, ErrMissingKeyPair
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if err := m.apply(cfg); err != nil {
		return nil, err
	}
	roots := m.TrustStoreFile
	if roots == "" {
		roots = m.CertFile
	}
	if roots != "" {
		pool, err := loadPool(roots)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	if m.CertFile != "" && m.KeyFile != "" {
		cert, err := m.keyPair()
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func (m *Material) apply(cfg *tls.Config) error {
	suites, err := cipherSuiteIDs(m.CipherSuites)
	if err != nil {
		return err
	}
	cfg.CipherSuites = suites
	lo, hi, err := versionRange(m.Protocols)
	if err != nil {
		return err
	}
	if lo != 0 {
		cfg.MinVersion = lo
	}
	cfg.MaxVersion = hi
	return nil
}

func (m *Material) keyPair() (tls.Certificate, error) {
	certPEM, err := os.ReadFile(m.CertFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read certificate file: %w", err)
	}
	keyPEM, err := os.ReadFile(m.KeyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read key file: %w", err)
	}
	if m.KeyPassword != "" {
		keyPEM, err = decryptKey(keyPEM, m.KeyPassword)
		if err != nil {
			return tls.Certificate{}, err
		}
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to load key pair: %w", err)
	}
	return cert, nil
}

// decryptKey decrypts a legacy RFC 1423 encrypted PEM key. Unencrypted keys
// are returned unchanged.
func decryptKey(keyPEM []byte, password string) ([]byte, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, ErrNoPEMKey
	}
	//nolint:staticcheck // legacy encrypted PEM keys are still in use
	if !x509.IsEncryptedPEMBlock(block) {
		return keyPEM, nil
	}
	//nolint:staticcheck // see above
	der, err := x509.DecryptPEMBlock(block, []byte(password))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKeyPassword, err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
}

func loadPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trust store: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("%w: %s", ErrEmptyTrustStore, path)
	}
	return pool, nil
}

func cipherSuiteIDs(names []string) ([]uint16, error) {
	if len(names) == 0 {
		return nil, nil
	}
	known := make(map[string]uint16)
	for _, s := range tls.CipherSuites() {
		known[s.Name] = s.ID
	}
	for _, s := range tls.InsecureCipherSuites() {
		known[s.Name] = s.ID
	}
	ids := make([]uint16, 0, len(names))
	for _, n := range names {
		id, ok := known[strings.TrimSpace(n)]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCipher, n)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

var protocolVersions = map[string]uint16{
	"tlsv1":   tls.VersionTLS10,
	"tlsv1.0": tls.VersionTLS10,
	"tlsv1.1": tls.VersionTLS11,
	"tlsv1.2": tls.VersionTLS12,
	"tlsv1.3": tls.VersionTLS13,
}

// versionRange maps protocol names such as "TLSv1.2" to the lowest and
// highest enabled version. An empty list returns zeros.
func versionRange(protocols []string) (lo, hi uint16, err error) {
	for _, p := range protocols {
		v, ok := protocolVersions[strings.ToLower(strings.TrimSpace(p))]
		if !ok {
			return 0, 0, fmt.Errorf("%w: %s", ErrUnknownProtocol, p)
		}
		if lo == 0 || v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi, nil
}
