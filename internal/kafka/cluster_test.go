package kafka

import (
	"strings"
	"testing"
)

func TestClusterConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ClusterConfig
		wantErr []string
	}{
		{
			name: "valid minimal",
			cfg:  ClusterConfig{Brokers: []string{"localhost:9092"}},
		},
		{
			name:    "missing brokers",
			cfg:     ClusterConfig{},
			wantErr: []string{"brokers are required"},
		},
		{
			name: "valid SCRAM",
			cfg: ClusterConfig{
				Brokers: []string{"b:9092"},
				Auth:    AuthConfig{Mechanism: "SCRAM-SHA-512", Username: "u", Password: "p"},
			},
		},
		{
			name: "bad mechanism without credentials",
			cfg: ClusterConfig{
				Brokers: []string{"b:9092"},
				Auth:    AuthConfig{Mechanism: "GSSAPI"},
			},
			wantErr: []string{"GSSAPI", "username", "password"},
		},
		{
			name: "cert without key",
			cfg: ClusterConfig{
				Brokers: []string{"b:9092"},
				TLS:     TLSConfig{Enabled: true, CertFile: "c.pem"},
			},
			wantErr: []string{"key file is required"},
		},
		{
			name: "key without cert",
			cfg: ClusterConfig{
				Brokers: []string{"b:9092"},
				TLS:     TLSConfig{Enabled: true, KeyFile: "k.pem"},
			},
			wantErr: []string{"cert file is required"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("expected error to mention %q, got %q", want, err.Error())
				}
			}
		})
	}
}
