package kafka

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// generateTestKeyPair generates a self-signed cert/key pair for TLS tests.
func generateTestKeyPair(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestClientOptions_Basic(t *testing.T) {
	opts, err := ClientOptions(&ClusterConfig{Brokers: []string{"localhost:9092"}})
	if err != nil {
		t.Fatalf("ClientOptions() error = %v", err)
	}
	if len(opts) != 1 {
		t.Errorf("expected only the seed brokers option, got %d", len(opts))
	}
}

func TestClientOptions_ClientIDAndKeepAlive(t *testing.T) {
	opts, err := ClientOptions(&ClusterConfig{
		Brokers:   []string{"localhost:9092"},
		ClientID:  "view-1",
		KeepAlive: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("ClientOptions() error = %v", err)
	}
	if len(opts) != 3 {
		t.Errorf("expected brokers, client id and dialer options, got %d", len(opts))
	}
}

func TestClientOptions_WithSASL(t *testing.T) {
	tests := []struct {
		name      string
		mechanism string
		wantErr   bool
	}{
		{"PLAIN", "PLAIN", false},
		{"SCRAM-SHA-256", "SCRAM-SHA-256", false},
		{"SCRAM-SHA-512", "SCRAM-SHA-512", false},
		{"unknown", "UNKNOWN", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &ClusterConfig{
				Brokers: []string{"localhost:9092"},
				Auth: AuthConfig{
					Mechanism: tt.mechanism,
					Username:  "user",
					Password:  "pass",
				},
			}

			opts, err := ClientOptions(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ClientOptions() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && len(opts) < 2 {
				t.Error("ClientOptions() should include SASL option")
			}
		})
	}
}

func TestClientOptions_TLS(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM := generateTestKeyPair(t)
	caPath := writeFile(t, dir, "ca.pem", certPEM)
	certPath := writeFile(t, dir, "client.pem", certPEM)
	keyPath := writeFile(t, dir, "client.key", keyPEM)
	badPath := writeFile(t, dir, "bad.pem", []byte("not a certificate"))

	tests := []struct {
		name    string
		tls     TLSConfig
		keep    time.Duration
		wantErr string
	}{
		{name: "skip verify", tls: TLSConfig{Enabled: true, SkipVerify: true}},
		{name: "with CA", tls: TLSConfig{Enabled: true, CAFile: caPath}},
		{name: "mTLS", tls: TLSConfig{Enabled: true, CAFile: caPath, CertFile: certPath, KeyFile: keyPath}},
		{name: "TLS with keepalive dialer", tls: TLSConfig{Enabled: true, CAFile: caPath}, keep: time.Minute},
		{name: "missing CA", tls: TLSConfig{Enabled: true, CAFile: filepath.Join(dir, "missing.pem")}, wantErr: "read CA file"},
		{name: "invalid CA PEM", tls: TLSConfig{Enabled: true, CAFile: badPath}, wantErr: "failed to parse CA"},
		{name: "invalid key pair", tls: TLSConfig{Enabled: true, CertFile: certPath, KeyFile: badPath}, wantErr: "load client certificate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := ClientOptions(&ClusterConfig{
				Brokers:   []string{"localhost:9093"},
				KeepAlive: tt.keep,
				TLS:       tt.tls,
			})
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ClientOptions() error = %v", err)
			}
			if len(opts) != 2 {
				t.Errorf("expected brokers and a single dial option, got %d", len(opts))
			}
		})
	}
}
