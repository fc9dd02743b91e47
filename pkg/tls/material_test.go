package tls

import (
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestMaterial(t *testing.T) (*Material, *GeneratedCertificate) {
	t.Helper()
	gen, err := GenerateSelfSigned(nil)
	require.NoError(t, err)
	m, err := gen.WriteFiles(t.TempDir())
	require.NoError(t, err)
	return m, gen
}

func TestGenerateSelfSigned(t *testing.T) {
	gen, err := GenerateSelfSigned(&CertificateConfig{
		Organization: "Test Org",
		CommonName:   "test.local",
		DNSNames:     []string{"test.local"},
		ValidFor:     0,
		ClientAuth:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, "test.local", gen.Certificate.Subject.CommonName)
	assert.Contains(t, gen.Certificate.ExtKeyUsage, x509.ExtKeyUsageClientAuth)
	assert.False(t, gen.Certificate.IsCA)

	block, _ := pem.Decode(gen.CertPEM)
	require.NotNil(t, block)
	assert.Equal(t, "CERTIFICATE", block.Type)
}

func TestMaterial_ServerConfig(t *testing.T) {
	m, _ := writeTestMaterial(t)
	m.Protocols = []string{"TLSv1.2", "TLSv1.3"}
	m.CipherSuites = []string{"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256"}

	cfg, err := m.ServerConfig()
	require.NoError(t, err)

	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MaxVersion)
	assert.Equal(t, []uint16{tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256}, cfg.CipherSuites)
	assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)
}

func TestMaterial_TrustStoreAndClientAuth(t *testing.T) {
	m, _ := writeTestMaterial(t)
	m.TrustStoreFile = m.CertFile
	m.RequireClientCert = true

	cfg, err := m.ServerConfig()
	require.NoError(t, err)
	assert.NotNil(t, cfg.ClientCAs)
	assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)

	client, err := m.ClientConfig()
	require.NoError(t, err)
	assert.NotNil(t, client.RootCAs)
	assert.Len(t, client.Certificates, 1)
}

func TestMaterial_Validate(t *testing.T) {
	tests := []struct {
		name string
		m    *Material
		want error
	}{
		{"nil", nil, ErrMissingKeyPair},
		{"missing key", &Material{CertFile: "c"}, ErrMissingKeyPair},
		{"client cert without roots", &Material{CertFile: "c", KeyFile: "k", RequireClientCert: true}, ErrClientCertNoRoot},
		{"bad cipher", &Material{CertFile: "c", KeyFile: "k", CipherSuites: []string{"NOPE"}}, ErrUnknownCipher},
		{"bad protocol", &Material{CertFile: "c", KeyFile: "k", Protocols: []string{"SSLv3"}}, ErrUnknownProtocol},
		{"ok", &Material{CertFile: "c", KeyFile: "k", Protocols: []string{"tlsv1.3"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMaterial_MissingFiles(t *testing.T) {
	m := &Material{CertFile: filepath.Join(t.TempDir(), "none.pem"), KeyFile: "none.key"}
	_, err := m.ServerConfig()
	assert.Error(t, err)
}

func TestMaterial_EmptyTrustStore(t *testing.T) {
	m, _ := writeTestMaterial(t)
	empty := filepath.Join(t.TempDir(), "empty.pem")
	require.NoError(t, os.WriteFile(empty, []byte("nothing here"), 0o600))
	m.TrustStoreFile = empty

	_, err := m.ServerConfig()
	assert.ErrorIs(t, err, ErrEmptyTrustStore)
}

func TestMaterial_EncryptedKey(t *testing.T) {
	m, gen := writeTestMaterial(t)
	keyDER, _ := pem.Decode(gen.KeyPEM)
	//nolint:staticcheck // exercising legacy encrypted PEM support
	block, err := x509.EncryptPEMBlock(rand.Reader, "EC PRIVATE KEY", keyDER.Bytes, []byte("s3cret"), x509.PEMCipherAES256)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(m.KeyFile, pem.EncodeToMemory(block), 0o600))

	m.KeyPassword = "s3cret"
	_, err = m.ServerConfig()
	require.NoError(t, err)

	m.KeyPassword = "wrong"
	_, err = m.ServerConfig()
	assert.Error(t, err)
}
