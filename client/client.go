package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"pkt.systems/esclient/internal/svcfields"
	"pkt.systems/esclient/internal/version"
	"pkt.systems/esclient/request"
	"pkt.systems/pslog"
)

// Default client tuning knobs.
const (
	DefaultPort                = 9200
	DefaultHTTPTimeout         = 30 * time.Second
	DefaultMaxIdleConns        = 256
	DefaultMaxIdleConnsPerHost = 128
)

const defaultEndpointPort = "9200"

// BasicAuth holds HTTP basic credentials.
type BasicAuth struct {
	Username string
	Password string
}

// Config describes a single search engine endpoint. It is the explicit form
// of the host/port/secure/credentials settings shared by every call of a
// Client.
type Config struct {
	// Host is the server host name or address. Empty means localhost.
	Host string
	// Port defaults to 9200.
	Port int
	// Secure selects https.
	Secure bool
	// Auth enables HTTP basic authentication when non-nil.
	Auth *BasicAuth
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
}

// BaseURL renders the endpoint URL described by cfg.
func (cfg Config) BaseURL() string {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port <= 0 {
		port = DefaultPort
	}
	scheme := "http"
	if cfg.Secure {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(port))
}

// Client issues search engine operations over HTTP. It is safe for
// concurrent use; calls share only the underlying connection pool.
type Client struct {
	endpoints          []string
	shuffleEndpoints   bool
	httpClient         *http.Client
	httpTraceEnabled   bool
	httpTimeout        time.Duration
	secure             bool
	auth               *BasicAuth
	insecureSkipVerify bool
	tlsConfig          *tls.Config
	instrumentHTTP     bool
	logger             pslog.Base
	tracerProvider     trace.TracerProvider
	meterProvider      metric.MeterProvider
	tracer             trace.Tracer
	metrics            *callMetrics
	userAgent          string

	closeOnce sync.Once
}

// Option customises client construction.
type Option func(*Client)

// WithHTTPClient supplies a custom HTTP client. The client is copied; its
// Timeout is ignored in favour of WithHTTPTimeout.
func WithHTTPClient(cli *http.Client) Option {
	return func(c *Client) {
		if cli != nil {
			c.httpClient = cli
		}
	}
}

// WithLogger supplies a logger for client diagnostics.
// Passing nil falls back to pslog.NoopLogger().
func WithLogger(logger pslog.Base) Option {
	return func(c *Client) {
		if logger == nil {
			c.logger = pslog.NoopLogger()
			return
		}
		if full, ok := logger.(pslog.Logger); ok {
			c.logger = svcfields.WithSubsystem(full, svcfields.ClientSDK)
			return
		}
		c.logger = logger
	}
}

// WithEndpointShuffle toggles random shuffling of endpoints before each request.
// When disabled, endpoints are tried in the order provided.
func WithEndpointShuffle(enabled bool) Option {
	return func(c *Client) {
		c.shuffleEndpoints = enabled
	}
}

// WithSecure makes endpoints given without a scheme default to https.
func WithSecure(secure bool) Option {
	return func(c *Client) {
		c.secure = secure
	}
}

// WithBasicAuth sends HTTP basic credentials with every request.
// An empty username disables authentication.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		if strings.TrimSpace(username) == "" {
			c.auth = nil
			return
		}
		c.auth = &BasicAuth{Username: username, Password: password}
	}
}

// WithInsecureSkipVerify disables TLS certificate verification. Intended for
// development clusters with self-signed certificates.
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Client) {
		c.insecureSkipVerify = skip
	}
}

// WithTLSConfig supplies the TLS client configuration (root CAs, client
// certificates). The config is cloned; WithInsecureSkipVerify still applies
// on top of it.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		if cfg != nil {
			c.tlsConfig = cfg.Clone()
		}
	}
}

// WithHTTPTimeout overrides the per-request timeout.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpTimeout = d
		}
	}
}

// WithHTTPTrace enables net/http/httptrace diagnostics on requests.
// Traces are emitted through the configured client logger.
func WithHTTPTrace() Option {
	return func(c *Client) {
		c.httpTraceEnabled = true
	}
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tracerProvider = tp
	}
}

// WithMeterProvider overrides the global OpenTelemetry meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Client) {
		c.meterProvider = mp
	}
}

// WithHTTPInstrumentation wraps the transport with otelhttp so every HTTP
// attempt gets its own span and client metrics.
func WithHTTPInstrumentation(enabled bool) Option {
	return func(c *Client) {
		c.instrumentHTTP = enabled
	}
}

func newClient(opts []Option) *Client {
	c := &Client{
		shuffleEndpoints: true,
		httpTimeout:      DefaultHTTPTimeout,
		logger:           pslog.NoopLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// New creates a client targeting baseURL, e.g. http://localhost:9200. A
// comma-separated list is accepted; see ParseEndpoints.
func New(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("esclient: baseURL required")
	}
	c := newClient(opts)
	endpoints, err := ParseEndpoints(trimmed, c.secure)
	if err != nil {
		return nil, err
	}
	if err := c.initialize(endpoints); err != nil {
		return nil, err
	}
	return c, nil
}

// NewWithEndpoints constructs a client that fails over across endpoints.
func NewWithEndpoints(endpoints []string, opts ...Option) (*Client, error) {
	c := newClient(opts)
	normalized, err := parseEndpointSlice(endpoints, c.secure)
	if err != nil {
		return nil, err
	}
	if err := c.initialize(normalized); err != nil {
		return nil, err
	}
	return c, nil
}

// NewFromConfig constructs a client from cfg. Options apply after cfg, so
// they may override its credentials or TLS settings.
func NewFromConfig(cfg Config, opts ...Option) (*Client, error) {
	base := []Option{
		WithSecure(cfg.Secure),
		WithInsecureSkipVerify(cfg.InsecureSkipVerify),
	}
	if cfg.Auth != nil {
		base = append(base, WithBasicAuth(cfg.Auth.Username, cfg.Auth.Password))
	}
	return New(cfg.BaseURL(), append(base, opts...)...)
}

// ParseEndpoints splits a comma-separated server list and normalizes each
// endpoint. Endpoints without a scheme get https when secure is set and
// http otherwise; endpoints without a port get 9200.
func ParseEndpoints(raw string, secure bool) ([]string, error) {
	return parseEndpointSlice(strings.Split(raw, ","), secure)
}

func parseEndpointSlice(parts []string, secure bool) ([]string, error) {
	endpoints := make([]string, 0, len(parts))
	for _, part := range parts {
		ep := strings.TrimSpace(part)
		if ep == "" {
			continue
		}
		normalized, err := normalizeEndpoint(ep, secure)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, normalized)
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("esclient: no server endpoints provided")
	}
	return endpoints, nil
}

func normalizeEndpoint(raw string, secure bool) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("esclient: empty endpoint")
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		if strings.Contains(trimmed, "://") {
			return "", fmt.Errorf("esclient: unsupported endpoint scheme in %q", trimmed)
		}
		scheme := "http://"
		if secure {
			scheme = "https://"
		}
		trimmed = scheme + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("esclient: parse endpoint %q: %w", raw, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("esclient: endpoint %q has no host", raw)
	}
	return ensurePort(u, defaultEndpointPort), nil
}

func ensurePort(u *url.URL, defaultPort string) string {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	u.Host = net.JoinHostPort(host, port)
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/")
}

func (c *Client) initialize(endpoints []string) error {
	if c.logger == nil {
		c.logger = pslog.NoopLogger()
	}
	var httpClient http.Client
	if c.httpClient != nil {
		httpClient = *c.httpClient
	}
	if httpClient.Transport == nil {
		if base, ok := http.DefaultTransport.(*http.Transport); ok {
			tr := base.Clone()
			applyDefaultTransportTuning(tr)
			httpClient.Transport = tr
		}
	}
	if c.tlsConfig != nil || c.insecureSkipVerify {
		tr, ok := httpClient.Transport.(*http.Transport)
		if !ok || tr == nil {
			return fmt.Errorf("esclient: TLS settings require *http.Transport, got %T", httpClient.Transport)
		}
		cloned := tr.Clone()
		switch {
		case c.tlsConfig != nil:
			cloned.TLSClientConfig = c.tlsConfig.Clone()
		case cloned.TLSClientConfig == nil:
			cloned.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		if c.insecureSkipVerify {
			cloned.TLSClientConfig.InsecureSkipVerify = true
		}
		httpClient.Transport = cloned
	}
	if c.auth != nil {
		httpClient.Transport = &basicAuthTransport{
			base:     httpClient.Transport,
			username: c.auth.Username,
			password: c.auth.Password,
		}
	}
	if c.tracerProvider == nil {
		c.tracerProvider = otel.GetTracerProvider()
	}
	if c.meterProvider == nil {
		c.meterProvider = otel.GetMeterProvider()
	}
	if c.instrumentHTTP {
		httpClient.Transport = otelhttp.NewTransport(httpClient.Transport,
			otelhttp.WithTracerProvider(c.tracerProvider),
			otelhttp.WithMeterProvider(c.meterProvider),
		)
	}
	// Deadlines come from requestContext.
	httpClient.Timeout = 0
	c.httpClient = &httpClient
	if c.httpTimeout <= 0 {
		c.httpTimeout = DefaultHTTPTimeout
	}
	c.tracer = c.tracerProvider.Tracer(instrumentationName)
	c.metrics = newCallMetrics(c.meterProvider, c.logger)
	c.userAgent = "esclient/" + version.Current()
	c.endpoints = endpoints
	c.logInfo("client.init", "endpoints", endpoints, "auth", c.auth != nil, "timeout", c.httpTimeout)
	return nil
}

// Endpoints returns the normalized endpoint list.
func (c *Client) Endpoints() []string {
	return append([]string(nil), c.endpoints...)
}

func applyDefaultTransportTuning(tr *http.Transport) {
	if tr == nil {
		return
	}
	if tr.MaxIdleConns < DefaultMaxIdleConns {
		tr.MaxIdleConns = DefaultMaxIdleConns
	}
	if tr.MaxIdleConnsPerHost < DefaultMaxIdleConnsPerHost {
		tr.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}
}

type basicAuthTransport struct {
	base     http.RoundTripper
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	// RoundTrippers must not modify the caller's request.
	clone := req.Clone(req.Context())
	token := base64.StdEncoding.EncodeToString([]byte(t.username + ":" + t.password))
	clone.Header.Set("Authorization", "Basic "+token)
	return base.RoundTrip(clone)
}

func (c *Client) closeIdleConnections() {
	if c == nil || c.httpClient == nil {
		return
	}
	c.httpClient.CloseIdleConnections()
}

func shouldResetConnection(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// Close releases idle HTTP connections held by the client. Calls in flight
// run to completion.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(c.closeIdleConnections)
	return nil
}

func (c *Client) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if c.httpTimeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, c.httpTimeout)
}

type endpointRequestBuilder func(base string) (*http.Request, context.CancelFunc, error)

func (c *Client) shuffledEndpoints() []string {
	endpoints := append([]string(nil), c.endpoints...)
	if len(endpoints) > 1 && c.shuffleEndpoints {
		rand.Shuffle(len(endpoints), func(i, j int) {
			endpoints[i], endpoints[j] = endpoints[j], endpoints[i]
		})
	}
	return endpoints
}

func (c *Client) newHTTPTrace(ctx context.Context, endpoint string) *httptrace.ClientTrace {
	if !c.httpTraceEnabled {
		return nil
	}
	return &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			fields := []any{"endpoint", endpoint, "reused", info.Reused, "was_idle", info.WasIdle}
			if conn := info.Conn; conn != nil {
				if remote := conn.RemoteAddr(); remote != nil {
					fields = append(fields, "remote", remote.String())
				}
			}
			c.logTraceCtx(ctx, "client.http.trace.got_conn", fields...)
		},
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			fields := []any{"endpoint", endpoint}
			if info.Err != nil {
				fields = append(fields, "error", info.Err)
			}
			c.logTraceCtx(ctx, "client.http.trace.wrote_request", fields...)
		},
		GotFirstResponseByte: func() {
			c.logTraceCtx(ctx, "client.http.trace.first_byte", "endpoint", endpoint)
		},
	}
}

// attemptEndpoints tries each endpoint until one answers. Transport errors
// and 503 responses move on to the next endpoint; a 503 from the last
// endpoint is returned as is.
func (c *Client) attemptEndpoints(builder endpointRequestBuilder) (*http.Response, context.CancelFunc, string, error) {
	if len(c.endpoints) == 0 {
		return nil, nil, "", fmt.Errorf("esclient: no endpoints configured")
	}
	order := c.shuffledEndpoints()
	var lastErr error
	for attempt, base := range order {
		req, cancel, err := builder(base)
		if err != nil {
			if cancel != nil {
				cancel()
			}
			c.logDebug("client.http.builder_error", "endpoint", base, "error", err)
			return nil, nil, "", err
		}
		ctx := req.Context()
		attemptKV := []any{"endpoint", base, "attempt", attempt + 1, "total", len(order)}
		start := time.Now()
		c.logTraceCtx(ctx, "client.http.attempt", attemptKV...)
		if tr := c.newHTTPTrace(ctx, base); tr != nil {
			req = req.WithContext(httptrace.WithClientTrace(ctx, tr))
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			cancel()
			if shouldResetConnection(err) {
				c.closeIdleConnections()
			}
			c.logTraceCtx(ctx, "client.http.error", append(attemptKV, "error", err, "duration", time.Since(start))...)
			lastErr = err
			if errors.Is(err, context.Canceled) {
				break
			}
			continue
		}
		c.logTraceCtx(ctx, "client.http.success", append(attemptKV, "status", resp.StatusCode, "duration", time.Since(start))...)
		if resp.StatusCode == http.StatusServiceUnavailable && attempt < len(order)-1 {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			cancel()
			lastErr = fmt.Errorf("esclient: %s answered %d", base, resp.StatusCode)
			continue
		}
		return resp, cancel, base, nil
	}
	orderStr := strings.Join(order, ",")
	if lastErr == nil {
		lastErr = fmt.Errorf("esclient: all endpoints unreachable (attempted %s)", orderStr)
	} else {
		lastErr = fmt.Errorf("esclient: all endpoints unreachable (attempted %s): %w", orderStr, lastErr)
	}
	c.logDebug("client.http.unreachable", "order", order, "error", lastErr)
	return nil, nil, "", lastErr
}

// dispatch performs desc and returns the raw response body. Non-2xx
// statuses become *RemoteError and failed round trips *TransportError.
func (c *Client) dispatch(ctx context.Context, desc request.Descriptor) ([]byte, error) {
	ctx, span := c.startSpan(ctx, desc)
	begin := time.Now()
	c.metrics.begin(ctx, desc)
	c.logDebugCtx(ctx, "client.call.dispatch", "op", desc.Op, "method", desc.Method, "path", desc.URLPath())

	body, status, err := c.roundTrip(ctx, desc)

	elapsed := time.Since(begin)
	c.metrics.record(ctx, desc, status, elapsed, err)
	finishSpan(span, status, err)
	if err != nil {
		c.logWarnCtx(ctx, "client.call.complete", "op", desc.Op, "status", status, "duration", elapsed, "error", err)
		return nil, err
	}
	c.logDebugCtx(ctx, "client.call.complete", "op", desc.Op, "status", status, "duration", elapsed, "bytes", len(body))
	return body, nil
}

func (c *Client) roundTrip(ctx context.Context, desc request.Descriptor) ([]byte, int, error) {
	uri := desc.RequestURI()
	cid := CorrelationIDFromContext(ctx)
	builder := func(base string) (*http.Request, context.CancelFunc, error) {
		reqCtx, cancel := c.requestContext(ctx)
		var body io.Reader = http.NoBody
		if desc.Body != nil {
			body = bytes.NewReader(desc.Body)
		}
		req, err := http.NewRequestWithContext(reqCtx, desc.Method, base+uri, body)
		if err != nil {
			cancel()
			return nil, nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if desc.ContentType != "" {
			req.Header.Set("Content-Type", desc.ContentType)
		}
		if cid != "" {
			req.Header.Set(headerCorrelationID, cid)
		}
		return req, cancel, nil
	}
	transportErr := func(err error) *TransportError {
		return &TransportError{Op: desc.Op, Method: desc.Method, Path: desc.URLPath(), Err: err}
	}
	resp, cancel, _, err := c.attemptEndpoints(builder)
	if err != nil {
		return nil, 0, transportErr(err)
	}
	defer cancel()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, transportErr(fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, decodeRemoteError(resp.StatusCode, data)
	}
	return data, resp.StatusCode, nil
}

func hasKey(keyvals []any, target string) bool {
	for i := 0; i+1 < len(keyvals); i += 2 {
		if key, ok := keyvals[i].(string); ok && key == target {
			return true
		}
	}
	return false
}

func (c *Client) enrichKeyvals(ctx context.Context, keyvals []any) []any {
	cid := CorrelationIDFromContext(ctx)
	if cid == "" || hasKey(keyvals, "cid") {
		return keyvals
	}
	enriched := append([]any(nil), keyvals...)
	return append(enriched, "cid", cid)
}

func (c *Client) logTraceCtx(ctx context.Context, msg string, keyvals ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Trace(msg, c.enrichKeyvals(ctx, keyvals)...)
}

func (c *Client) logDebugCtx(ctx context.Context, msg string, keyvals ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Debug(msg, c.enrichKeyvals(ctx, keyvals)...)
}

func (c *Client) logWarnCtx(ctx context.Context, msg string, keyvals ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Warn(msg, c.enrichKeyvals(ctx, keyvals)...)
}

func (c *Client) logDebug(msg string, keyvals ...any) {
	c.logDebugCtx(context.Background(), msg, keyvals...)
}

func (c *Client) logInfo(msg string, keyvals ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Info(msg, keyvals...)
}
