// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"

	"github.com/lsm/streamview/internal/commit"
	"github.com/lsm/streamview/internal/kafka"
	"github.com/lsm/streamview/internal/retry"
	"github.com/lsm/streamview/internal/tracing"
)

// Environment variables read outside of the Config struct tags.
const (
	EnvConfigFile = "STREAMVIEW_CONFIG_FILE"
	EnvEnvFile    = "STREAMVIEW_ENV_FILE"
	EnvLogLevel   = "STREAMVIEW_LOG_LEVEL"
)

// defaultEnvFile is read from the working directory when present.
const defaultEnvFile = ".env"

// keepAlivePeriod is the TCP keepalive used when SOCKET_KEEPALIVE_ENABLE is set.
const keepAlivePeriod = 30 * time.Second

// Flag is a boolean that is true when the variable holds any non-empty
// value, so FLAG=false is true.
type Flag bool

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Flag) UnmarshalText(text []byte) error {
	*f = len(text) > 0
	return nil
}

// Config is the complete service configuration.
type Config struct {
	Topic    string   `env:"TOPIC"`
	Brokers  []string `env:"METADATA_BROKER_LIST" envDefault:"localhost:9092" envSeparator:","`
	GroupID  string   `env:"GROUP_ID" envDefault:"common-id"`
	ClientID string   `env:"CLIENT_ID"`

	// Client options, kept verbatim and translated by kafka.Tuning.
	EventCB                 string `env:"EVENT_CB"`
	CompressionCodec        string `env:"COMPRESSION_CODEC" envDefault:"snappy"`
	APIVersionRequest       string `env:"API_VERSION_REQUEST"`
	SocketKeepalive         string `env:"SOCKET_KEEPALIVE_ENABLE"`
	SocketBlockingMaxMs     string `env:"SOCKET_BLOCKING_MAX_MS" envDefault:"100"`
	HeartbeatIntervalMs     string `env:"HEARTBEAT_INTERVAL_MS" envDefault:"250"`
	RetryBackoffMs          string `env:"RETRY_BACKOFF_MS" envDefault:"250"`
	FetchMinBytes           string `env:"FETCH_MIN_BYTES" envDefault:"100"`
	FetchMessageMaxBytes    string `env:"FETCH_MESSAGE_MAX_BYTES" envDefault:"2097152"`
	QueuedMinMessages       string `env:"QUEUED_MIN_MESSAGES" envDefault:"100"`
	FetchErrorBackoffMs     string `env:"FETCH_ERROR_BACKOFF_MS" envDefault:"100"`
	QueuedMaxMessagesKBytes string `env:"QUEUED_MAX_MESSAGES_KBYTES" envDefault:"50"`
	FetchWaitMaxMs          string `env:"FETCH_WAIT_MAX_MS" envDefault:"1000"`
	QueueBufferingMaxMs     string `env:"QUEUE_BUFFERING_MAX_MS" envDefault:"1000"`
	BatchNumMessages        string `env:"BATCH_NUM_MESSAGES" envDefault:"10000"`
	AutoOffsetReset         string `env:"AUTO_OFFSET_RESET" envDefault:"earliest"`
	RequestRequiredAcks     string `env:"REQUEST_REQUIRED_ACKS" envDefault:"1"`

	SASLMechanism string `env:"SASL_MECHANISM"`
	SASLUsername  string `env:"SASL_USERNAME"`
	SASLPassword  string `env:"SASL_PASSWORD"`
	TLSEnabled    Flag   `env:"TLS_ENABLED"`
	TLSCAFile     string `env:"TLS_CA_FILE"`
	TLSCertFile   string `env:"TLS_CERT_FILE"`
	TLSKeyFile    string `env:"TLS_KEY_FILE"`
	TLSSkipVerify Flag   `env:"TLS_SKIP_VERIFY"`

	// Commit policy.
	EnableAutoCommit     Flag `env:"ENABLE_AUTO_COMMIT"`
	AutoCommitIntervalMs int  `env:"AUTO_COMMIT_INTERVALS" envDefault:"100"`
	BatchSize            int  `env:"BATCH_SIZE" envDefault:"5"`
	CommitEveryNBatch    int  `env:"COMMIT_EVERY_N_BATCH" envDefault:"1"`
	CommitSync           Flag `env:"COMMIT_SYNC"`
	NoBatchCommits       Flag `env:"NO_BATCH_COMMITS"`
	Concurrency          int  `env:"CONCURRENCY" envDefault:"1"`

	// Retries of drain commits and dead-letter publishes.
	RetryMaxAttempts   int `env:"STREAMVIEW_RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryIntervalMs    int `env:"STREAMVIEW_RETRY_INTERVAL_MS" envDefault:"200"`
	RetryMaxIntervalMs int `env:"STREAMVIEW_RETRY_MAX_INTERVAL_MS" envDefault:"5000"`

	// Views.
	RawStorePath    string `env:"RAW_STORE_PATH"`
	TableStorePath  string `env:"TABLE_STORE_PATH"`
	TableMergeExpr  string `env:"TABLE_MERGE_EXPR"`
	TableSchemaFile string `env:"TABLE_SCHEMA_FILE"`
	TableValuePath  string `env:"TABLE_VALUE_PATH"`
	DeadLetterTopic string `env:"DEAD_LETTER_TOPIC"`

	// Serving.
	Port            int    `env:"PORT" envDefault:"3000"`
	MetricsAddr     string `env:"METRICS_ADDR" envDefault:":9090"`
	CompatResponses Flag   `env:"COMPAT_RESPONSES"`

	// Observability.
	ConfigFile   string `env:"STREAMVIEW_CONFIG_FILE"`
	EnvFile      string `env:"STREAMVIEW_ENV_FILE"`
	LogLevel     string `env:"STREAMVIEW_LOG_LEVEL" envDefault:"info"`
	OTelEnabled  Flag   `env:"STREAMVIEW_OTEL_ENABLED"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
}

// Load reads the configuration from environ (as returned by os.Environ),
// overlaid on a dotenv file (STREAMVIEW_ENV_FILE, or ./.env when present)
// and then on the YAML file named by STREAMVIEW_CONFIG_FILE if set.
// Environment values win over dotenv values, which win over YAML values.
func Load(environ []string) (*Config, error) {
	vars := env.ToMap(environ)

	envFile, required := vars[EnvEnvFile], true
	if envFile == "" {
		envFile, required = defaultEnvFile, false
	}
	dotenv, err := ReadEnvFile(envFile)
	switch {
	case err == nil:
		overlay(vars, dotenv)
	case required || !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}

	if path := vars[EnvConfigFile]; path != "" {
		fileVars, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		overlay(vars, fileVars)
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "streamview-" + uuid.NewString()
	}
	if cfg.RawStorePath == "" {
		cfg.RawStorePath = cfg.Topic
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// overlay copies the variables of src that are not yet set in dst.
func overlay(dst, src map[string]string) {
	for k, v := range src {
		if _, set := dst[k]; !set {
			dst[k] = v
		}
	}
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Topic == "" {
		errs = append(errs, errors.New("TOPIC is required"))
	}
	if c.GroupID == "" {
		errs = append(errs, errors.New("GROUP_ID must not be empty"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Port))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("CONCURRENCY must be at least 1, got %d", c.Concurrency))
	}
	if c.RetryMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("STREAMVIEW_RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts))
	}
	if err := c.Cluster().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Policy().Validate(); err != nil {
		errs = append(errs, err)
	}

	tuning := c.Tuning()
	if _, err := tuning.ConsumerOptions(); err != nil {
		errs = append(errs, err)
	}
	if _, err := tuning.ProducerOptions(); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := tuning.Millis(kafka.OptFetchErrorBackoff); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Cluster returns how to reach the brokers.
func (c *Config) Cluster() *kafka.ClusterConfig {
	cluster := &kafka.ClusterConfig{
		Brokers:  c.Brokers,
		ClientID: c.ClientID,
		Auth: kafka.AuthConfig{
			Mechanism: c.SASLMechanism,
			Username:  c.SASLUsername,
			Password:  c.SASLPassword,
		},
		TLS: kafka.TLSConfig{
			Enabled:    bool(c.TLSEnabled),
			CAFile:     c.TLSCAFile,
			CertFile:   c.TLSCertFile,
			KeyFile:    c.TLSKeyFile,
			SkipVerify: bool(c.TLSSkipVerify),
		},
	}
	if c.SocketKeepalive != "" {
		cluster.KeepAlive = keepAlivePeriod
	}
	return cluster
}

// Tuning returns the client options keyed by their librdkafka names.
func (c *Config) Tuning() kafka.Tuning {
	t := kafka.Tuning{
		kafka.OptBrokerList:          strings.Join(c.Brokers, ","),
		kafka.OptGroupID:             c.GroupID,
		kafka.OptClientID:            c.ClientID,
		kafka.OptEventCB:             c.EventCB,
		kafka.OptCompressionCodec:    c.CompressionCodec,
		kafka.OptAPIVersionRequest:   c.APIVersionRequest,
		kafka.OptSocketKeepalive:     c.SocketKeepalive,
		kafka.OptSocketBlockingMaxMs: c.SocketBlockingMaxMs,
		kafka.OptAutoCommitInterval:  strconv.Itoa(c.AutoCommitIntervalMs),
		kafka.OptHeartbeatInterval:   c.HeartbeatIntervalMs,
		kafka.OptRetryBackoff:        c.RetryBackoffMs,
		kafka.OptFetchMinBytes:       c.FetchMinBytes,
		kafka.OptFetchMaxBytes:       c.FetchMessageMaxBytes,
		kafka.OptQueuedMinMessages:   c.QueuedMinMessages,
		kafka.OptFetchErrorBackoff:   c.FetchErrorBackoffMs,
		kafka.OptQueuedMaxKBytes:     c.QueuedMaxMessagesKBytes,
		kafka.OptFetchWaitMax:        c.FetchWaitMaxMs,
		kafka.OptQueueBufferingMax:   c.QueueBufferingMaxMs,
		kafka.OptBatchNumMessages:    c.BatchNumMessages,
		kafka.OptAutoOffsetReset:     c.AutoOffsetReset,
		kafka.OptRequiredAcks:        c.RequestRequiredAcks,
	}
	if c.EnableAutoCommit {
		t[kafka.OptEnableAutoCommit] = "true"
	}
	return t
}

// Policy returns the commit policy.
func (c *Config) Policy() commit.Policy {
	return commit.Policy{
		BatchSize:          c.BatchSize,
		CommitEveryNBatch:  c.CommitEveryNBatch,
		CommitSync:         bool(c.CommitSync),
		NoBatchCommits:     bool(c.NoBatchCommits),
		AutoCommit:         bool(c.EnableAutoCommit),
		AutoCommitInterval: time.Duration(c.AutoCommitIntervalMs) * time.Millisecond,
	}
}

// Retry returns the policy for drain commits and dead-letter publishes.
func (c *Config) Retry() retry.Policy {
	return retry.Policy{
		MaxAttempts:     c.RetryMaxAttempts,
		InitialInterval: time.Duration(c.RetryIntervalMs) * time.Millisecond,
		MaxInterval:     time.Duration(c.RetryMaxIntervalMs) * time.Millisecond,
		Jitter:          0.2,
	}
}

// Tracing returns the tracing configuration for serviceName.
func (c *Config) Tracing(serviceName string) tracing.Config {
	return tracing.Config{
		Enabled:     bool(c.OTelEnabled),
		Endpoint:    c.OTLPEndpoint,
		ServiceName: serviceName,
	}
}

// GatewayAddr is the listen address of the query gateway.
func (c *Config) GatewayAddr() string {
	return ":" + strconv.Itoa(c.Port)
}
