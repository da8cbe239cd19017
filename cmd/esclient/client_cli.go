package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"pkt.systems/esclient"
	"pkt.systems/esclient/client"
	"pkt.systems/esclient/internal/svcfields"
	"pkt.systems/esclient/request"
	"pkt.systems/pslog"
)

const (
	keyConfig         = "config"
	keyServer         = "server"
	keyUsername       = "username"
	keyPassword       = "password"
	keySecure         = "secure"
	keyInsecure       = "insecure"
	keyCAFile         = "ca-file"
	keyClientBundle   = "client-bundle"
	keyTimeout        = "timeout"
	keyShuffle        = "shuffle"
	keyHTTPTrace      = "http-trace"
	keyLogLevel       = "log-level"
	keyOTLPEndpoint   = "otlp-endpoint"
	keyMetricsListen  = "metrics-listen"
	keyPprofListen    = "pprof-listen"
	keyRuntimeMetrics = "runtime-metrics"
	keyCorrelationID  = "correlation-id"

	envCorrelation = "ESCLIENT_CORRELATION_ID"
)

type cliConfig struct {
	v          *viper.Viper
	baseLogger pslog.Logger

	loaded      bool
	cfg         esclient.Config
	logger      pslog.Logger
	telemetry   *esclient.Telemetry
	cli         *client.Client
	verboseFlag *bool
	pretty      bool
	stats       bool
	opts        []string
}

func newCLIConfig(baseLogger pslog.Logger) *cliConfig {
	return &cliConfig{v: viper.New(), baseLogger: svcfields.EnsureLogger(baseLogger)}
}

func addGlobalFlags(cmd *cobra.Command, c *cliConfig) {
	var verbose bool
	flags := cmd.PersistentFlags()
	flags.StringP("config", "c", "", "path to YAML config file (defaults to $HOME/.esclient/"+esclient.DefaultConfigFileName+")")
	flags.StringP("server", "s", esclient.DefaultServer, "comma-separated search engine endpoints (host, host:port or URL)")
	flags.String("username", "", "basic auth username")
	flags.String("password", "", "basic auth password")
	flags.Bool("secure", false, "use https for endpoints without an explicit scheme")
	flags.Bool("insecure", false, "skip TLS certificate verification")
	flags.String("ca-file", "", "PEM file with root certificates for the cluster")
	flags.String("client-bundle", "", "PEM file with a client certificate and key")
	flags.Duration("timeout", esclient.DefaultTimeout, "per-request HTTP timeout")
	flags.Bool("shuffle", false, "shuffle endpoints before each request")
	flags.Bool("http-trace", false, "log connection-level HTTP trace events (requires --log-level trace)")
	flags.String("log-level", esclient.DefaultLogLevel, "client log level (trace|debug|info|warn|error|none)")
	flags.String("otlp-endpoint", "", "OTLP trace collector (host[:port] for gRPC, or grpc://, grpcs://, http://, https:// URL)")
	flags.String("metrics-listen", "", "serve Prometheus metrics on this address while the command runs")
	flags.String("pprof-listen", "", "serve pprof on this address while the command runs")
	flags.Bool("runtime-metrics", false, "include Go runtime metrics on the metrics endpoint")
	flags.String("correlation-id", "", "correlation id sent as X-Correlation-Id (generated when empty)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose (trace) client logging")
	flags.BoolVar(&c.pretty, "pretty", false, "indent JSON responses")
	flags.BoolVar(&c.stats, "stats", false, "print status, size and latency to stderr")
	flags.StringArrayVarP(&c.opts, "opt", "o", nil, "request option as key=value (repeatable), sent as a query parameter")

	mustBindFlag(c.v, keyConfig, "ESCLIENT_CONFIG", flags.Lookup("config"))
	mustBindFlag(c.v, keyServer, "ESCLIENT_SERVER", flags.Lookup("server"))
	mustBindFlag(c.v, keyUsername, "ESCLIENT_USERNAME", flags.Lookup("username"))
	mustBindFlag(c.v, keyPassword, "ESCLIENT_PASSWORD", flags.Lookup("password"))
	mustBindFlag(c.v, keySecure, "ESCLIENT_SECURE", flags.Lookup("secure"))
	mustBindFlag(c.v, keyInsecure, "ESCLIENT_INSECURE", flags.Lookup("insecure"))
	mustBindFlag(c.v, keyCAFile, "ESCLIENT_CA_FILE", flags.Lookup("ca-file"))
	mustBindFlag(c.v, keyClientBundle, "ESCLIENT_CLIENT_BUNDLE", flags.Lookup("client-bundle"))
	mustBindFlag(c.v, keyTimeout, "ESCLIENT_TIMEOUT", flags.Lookup("timeout"))
	mustBindFlag(c.v, keyShuffle, "ESCLIENT_SHUFFLE", flags.Lookup("shuffle"))
	mustBindFlag(c.v, keyHTTPTrace, "ESCLIENT_HTTP_TRACE", flags.Lookup("http-trace"))
	mustBindFlag(c.v, keyLogLevel, "ESCLIENT_LOG_LEVEL", flags.Lookup("log-level"))
	mustBindFlag(c.v, keyOTLPEndpoint, "ESCLIENT_OTLP_ENDPOINT", flags.Lookup("otlp-endpoint"))
	mustBindFlag(c.v, keyMetricsListen, "ESCLIENT_METRICS_LISTEN", flags.Lookup("metrics-listen"))
	mustBindFlag(c.v, keyPprofListen, "ESCLIENT_PPROF_LISTEN", flags.Lookup("pprof-listen"))
	mustBindFlag(c.v, keyRuntimeMetrics, "ESCLIENT_RUNTIME_METRICS", flags.Lookup("runtime-metrics"))
	mustBindFlag(c.v, keyCorrelationID, envCorrelation, flags.Lookup("correlation-id"))

	c.verboseFlag = &verbose
}

func mustBindFlag(v *viper.Viper, key, env string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for key %s not found", key))
	}
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
	if env != "" {
		if err := v.BindEnv(key, env); err != nil {
			panic(err)
		}
	}
}

func (c *cliConfig) load(cmd *cobra.Command) error {
	if c.loaded {
		return nil
	}
	configFile, err := loadConfigFile(c.v)
	if err != nil {
		return err
	}
	cfg := bindConfig(c.v)
	if c.verboseFlag != nil && *c.verboseFlag {
		cfg.LogLevel = "trace"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	if level != pslog.Disabled {
		c.logger = cliLogger(cmd.ErrOrStderr(), level)
	} else {
		c.logger = pslog.NoopLogger()
	}
	if configFile != "" {
		c.logger.Debug("cli.config.loaded", "path", configFile)
	}
	c.telemetry, err = esclient.SetupTelemetry(cmd.Context(), cfg.Telemetry(),
		svcfields.WithSubsystem(c.baseLogger, svcfields.Telemetry))
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.loaded = true
	return nil
}

func (c *cliConfig) client(cmd *cobra.Command) (*client.Client, error) {
	if c.cli != nil {
		return c.cli, nil
	}
	if err := c.load(cmd); err != nil {
		return nil, err
	}
	var logger pslog.Base
	if level, _ := c.cfg.Level(); level != pslog.Disabled {
		logger = c.logger
	}
	cli, err := c.cfg.NewClient(logger,
		client.WithTracerProvider(c.telemetry.TracerProvider()),
		client.WithMeterProvider(c.telemetry.MeterProvider()),
	)
	if err != nil {
		return nil, err
	}
	c.cli = cli
	return cli, nil
}

func (c *cliConfig) cleanup() {
	if c.cli != nil {
		_ = c.cli.Close()
		c.cli = nil
	}
	if c.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.telemetry.Shutdown(ctx); err != nil {
			c.logger.Warn("cli.telemetry.shutdown_failed", "error", err)
		}
		cancel()
		c.telemetry = nil
	}
	c.loaded = false
}

// options parses the repeated --opt key=value flags.
func (c *cliConfig) options() (request.Options, error) {
	return parseOptions(c.opts)
}

func parseOptions(raw []string) (request.Options, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	opts := make(request.Options, len(raw))
	for _, item := range raw {
		key, value, ok := strings.Cut(item, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --opt %q (want key=value)", item)
		}
		opts[key] = value
	}
	return opts, nil
}

func (c *cliConfig) commandContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if id := strings.TrimSpace(c.v.GetString(keyCorrelationID)); id != "" {
		ctx = client.WithCorrelationID(ctx, id)
	}
	return ctx
}

type buildFunc func(ctx context.Context, args ...client.CallOption) (*client.Call, error)

// run builds a deferred call, registers output listeners, executes it and
// waits for completion.
func (c *cliConfig) run(cmd *cobra.Command, build buildFunc) error {
	defer c.cleanup()
	if _, err := c.client(cmd); err != nil {
		return err
	}
	opts, err := c.options()
	if err != nil {
		return err
	}
	ctx := c.commandContext(cmd)
	call, err := build(ctx, client.WithOptions(opts))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	var writeErr error
	started := time.Now()
	call.OnData(func(body []byte) {
		writeErr = c.writeBody(out, body)
	}).OnError(func(err error) {
		var remote *client.RemoteError
		if errors.As(err, &remote) && len(remote.Body) > 0 {
			_ = c.writeBody(errOut, remote.Body)
		}
	})
	if err := call.Execute(); err != nil {
		return err
	}
	// Cancellation of ctx aborts the in-flight request, so Result returns.
	body, err := call.Result()
	if c.stats {
		c.writeStats(errOut, call, len(body), time.Since(started), err)
	}
	if err != nil {
		return err
	}
	return writeErr
}

func (c *cliConfig) writeBody(w io.Writer, body []byte) error {
	if c.pretty && json.Valid(body) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err == nil {
			body = buf.Bytes()
		}
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if len(body) == 0 || body[len(body)-1] != '\n' {
		_, err := io.WriteString(w, "\n")
		return err
	}
	return nil
}

func (c *cliConfig) writeStats(w io.Writer, call *client.Call, size int, took time.Duration, err error) {
	desc := call.Descriptor()
	outcome := "ok"
	if err != nil {
		outcome = "error"
		var remote *client.RemoteError
		if errors.As(err, &remote) {
			outcome = fmt.Sprintf("status %d", remote.Status)
		}
	}
	fmt.Fprintf(w, "%s %s %s: %s, %s in %s (cid %s)\n",
		desc.Op, desc.Method, desc.URLPath(), outcome, humanizeBytes(size),
		took.Round(time.Millisecond), call.CorrelationID())
}

// bodyFlags holds the --body/--file pair shared by commands that send a JSON
// document.
type bodyFlags struct {
	body string
	file string
}

func (b *bodyFlags) register(cmd *cobra.Command, what string) {
	cmd.Flags().StringVarP(&b.body, "body", "b", "", what+" as inline JSON")
	cmd.Flags().StringVarP(&b.file, "file", "f", "", what+" read from a file (- for stdin)")
}

// read returns the body bytes, or nil when neither flag is set.
func (b *bodyFlags) read(cmd *cobra.Command) ([]byte, error) {
	if b.body != "" && b.file != "" {
		return nil, errors.New("--body and --file are mutually exclusive")
	}
	if b.body != "" {
		return []byte(b.body), nil
	}
	if b.file == "" {
		return nil, nil
	}
	r, closeFn, err := openInput(cmd, b.file)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	return io.ReadAll(r)
}

func (b *bodyFlags) require(cmd *cobra.Command) ([]byte, error) {
	data, err := b.read(cmd)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("a JSON body is required (use --body or --file)")
	}
	return data, nil
}

func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	expanded, err := esclient.ExpandPath(path)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(expanded)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// optionalBody converts raw bytes into a builder argument, keeping nil as an
// untyped nil so builders see an absent body.
func optionalBody(data []byte) any {
	if data == nil {
		return nil
	}
	return json.RawMessage(data)
}
