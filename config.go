package esclient

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/esclient/client"
	"pkt.systems/esclient/internal/tlsutil"
	"pkt.systems/pslog"
)

const (
	// DefaultServer is the endpoint used when none is configured.
	DefaultServer = "http://127.0.0.1:9200"
	// DefaultTimeout bounds a single HTTP round trip.
	DefaultTimeout = client.DefaultHTTPTimeout
	// DefaultLogLevel keeps the CLI quiet unless asked otherwise.
	DefaultLogLevel = "none"
	// DefaultConfigFileName is the config file searched for when --config is omitted.
	DefaultConfigFileName = "config.yaml"
	// ConfigDirEnv overrides DefaultConfigDir.
	ConfigDirEnv = "ESCLIENT_CONFIG_DIR"
)

// Config captures the connection and telemetry settings shared by the CLI
// and by programs that want file/env driven client construction.
type Config struct {
	// Server is a comma-separated list of endpoints (host, host:port or URL).
	Server             string `yaml:"server"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	Secure             bool   `yaml:"secure"`
	InsecureSkipVerify bool   `yaml:"insecure"`
	// CAFile holds PEM root certificates for private clusters.
	CAFile string `yaml:"ca-file"`
	// ClientBundle is a PEM file with a client certificate and key for PKI
	// authentication.
	ClientBundle   string        `yaml:"client-bundle"`
	Timeout        time.Duration `yaml:"timeout"`
	Shuffle        bool          `yaml:"shuffle"`
	HTTPTrace      bool          `yaml:"http-trace"`
	LogLevel       string        `yaml:"log-level"`
	OTLPEndpoint   string        `yaml:"otlp-endpoint"`
	MetricsListen  string        `yaml:"metrics-listen"`
	PprofListen    string        `yaml:"pprof-listen"`
	RuntimeMetrics bool          `yaml:"runtime-metrics"`
}

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() Config {
	return Config{
		Server:   DefaultServer,
		Timeout:  DefaultTimeout,
		LogLevel: DefaultLogLevel,
	}
}

// Validate normalizes defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server) == "" {
		c.Server = DefaultServer
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = DefaultLogLevel
	}
	if _, err := c.Endpoints(); err != nil {
		return err
	}
	if c.Password != "" && c.Username == "" {
		return errors.New("config: password set without username")
	}
	if c.RuntimeMetrics && strings.TrimSpace(c.MetricsListen) == "" {
		return errors.New("config: runtime-metrics requires metrics-listen")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Endpoints returns the normalized endpoint list.
func (c Config) Endpoints() ([]string, error) {
	endpoints, err := client.ParseEndpoints(c.Server, c.Secure)
	if err != nil {
		return nil, fmt.Errorf("config: server: %w", err)
	}
	return endpoints, nil
}

// Level parses LogLevel. "none", "off" and "disabled" map to pslog.Disabled.
func (c Config) Level() (pslog.Level, error) {
	raw := strings.ToLower(strings.TrimSpace(c.LogLevel))
	switch raw {
	case "", "none", "off", "disabled":
		return pslog.Disabled, nil
	}
	level, ok := pslog.ParseLevel(raw)
	if !ok {
		return pslog.Disabled, fmt.Errorf("config: invalid log level %q", c.LogLevel)
	}
	return level, nil
}

// Telemetry returns the telemetry settings carried by c.
func (c Config) Telemetry() TelemetryConfig {
	return TelemetryConfig{
		OTLPEndpoint:   c.OTLPEndpoint,
		MetricsListen:  c.MetricsListen,
		PprofListen:    c.PprofListen,
		RuntimeMetrics: c.RuntimeMetrics,
	}
}

// TLSConfig loads CAFile and ClientBundle. It returns nil when neither is set.
func (c Config) TLSConfig() (*tls.Config, error) {
	caFile, err := ExpandPath(c.CAFile)
	if err != nil {
		return nil, fmt.Errorf("config: ca-file: %w", err)
	}
	bundle, err := ExpandPath(c.ClientBundle)
	if err != nil {
		return nil, fmt.Errorf("config: client-bundle: %w", err)
	}
	return tlsutil.ClientConfig(caFile, bundle)
}

// ClientOptions translates c into client options. logger may be nil. TLS
// material is not loaded here; see TLSConfig and NewClient.
func (c Config) ClientOptions(logger pslog.Base) []client.Option {
	opts := []client.Option{
		client.WithSecure(c.Secure),
		client.WithHTTPTimeout(c.Timeout),
		client.WithEndpointShuffle(c.Shuffle),
		client.WithInsecureSkipVerify(c.InsecureSkipVerify),
	}
	if c.Username != "" {
		opts = append(opts, client.WithBasicAuth(c.Username, c.Password))
	}
	if c.HTTPTrace {
		opts = append(opts, client.WithHTTPTrace())
	}
	if c.OTLPEndpoint != "" {
		opts = append(opts, client.WithHTTPInstrumentation(true))
	}
	if logger != nil {
		opts = append(opts, client.WithLogger(logger))
	}
	return opts
}

// NewClient validates c and builds a client for its endpoints. Extra options
// are applied after the ones derived from c.
func (c Config) NewClient(logger pslog.Base, extra ...client.Option) (*client.Client, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	endpoints, err := c.Endpoints()
	if err != nil {
		return nil, err
	}
	opts := c.ClientOptions(logger)
	tlsConfig, err := c.TLSConfig()
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		opts = append(opts, client.WithTLSConfig(tlsConfig))
	}
	opts = append(opts, extra...)
	return client.NewWithEndpoints(endpoints, opts...)
}

// DefaultConfigDir returns the default configuration directory
// ($HOME/.esclient), honouring ESCLIENT_CONFIG_DIR.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv(ConfigDirEnv)); override != "" {
		return filepath.Abs(override)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".esclient"), nil
}

// DefaultConfigPath returns DefaultConfigDir joined with DefaultConfigFileName.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFileName), nil
}

// ExpandPath expands environment variables and a leading ~, then returns an
// absolute path.
func ExpandPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", nil
	}
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Abs(p)
}
