// Package kafka builds franz-go client options from the service configuration.
package kafka

import (
	"errors"
	"fmt"
	"time"
)

// ClusterConfig describes how to reach and authenticate to the brokers.
type ClusterConfig struct {
	Brokers   []string
	ClientID  string
	KeepAlive time.Duration // TCP keepalive period for broker connections; 0 keeps the dialer default
	Auth      AuthConfig
	TLS       TLSConfig
}

// AuthConfig defines SASL authentication for Kafka.
type AuthConfig struct {
	Mechanism string // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username  string
	Password  string
}

// TLSConfig defines TLS settings for Kafka connections.
type TLSConfig struct {
	Enabled    bool
	CAFile     string
	CertFile   string // For mTLS
	KeyFile    string // For mTLS
	SkipVerify bool
}

// Validate checks the cluster configuration for errors.
func (c *ClusterConfig) Validate() error {
	var errs []error

	if len(c.Brokers) == 0 {
		errs = append(errs, errors.New("brokers are required"))
	}

	if c.Auth.Mechanism != "" {
		validMechanisms := map[string]bool{
			"PLAIN":         true,
			"SCRAM-SHA-256": true,
			"SCRAM-SHA-512": true,
		}
		if !validMechanisms[c.Auth.Mechanism] {
			errs = append(errs, fmt.Errorf("sasl mechanism %q is not valid (must be PLAIN, SCRAM-SHA-256, or SCRAM-SHA-512)", c.Auth.Mechanism))
		}
		if c.Auth.Username == "" {
			errs = append(errs, errors.New("sasl username is required when mechanism is set"))
		}
		if c.Auth.Password == "" {
			errs = append(errs, errors.New("sasl password is required when mechanism is set"))
		}
	}

	if c.TLS.CertFile != "" && c.TLS.KeyFile == "" {
		errs = append(errs, errors.New("tls key file is required when cert file is specified"))
	}
	if c.TLS.KeyFile != "" && c.TLS.CertFile == "" {
		errs = append(errs, errors.New("tls cert file is required when key file is specified"))
	}

	return errors.Join(errs...)
}
