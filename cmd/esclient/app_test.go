package main

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"gopkg.in/yaml.v3"

	"pkt.systems/esclient"
	"pkt.systems/esclient/client"
	"pkt.systems/esclient/internal/version"
	"pkt.systems/pslog"
)

type seenRequest struct {
	method string
	path   string
	query  string
	body   string
	cid    string
}

type stubEngine struct {
	srv    *httptest.Server
	status int
	body   string

	mu   sync.Mutex
	seen []seenRequest
}

func newStubEngine(t *testing.T, status int, body string) *stubEngine {
	t.Helper()
	se := &stubEngine{status: status, body: body}
	se.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		se.mu.Lock()
		se.seen = append(se.seen, seenRequest{
			method: r.Method,
			path:   r.URL.EscapedPath(),
			query:  r.URL.RawQuery,
			body:   string(data),
			cid:    r.Header.Get("X-Correlation-Id"),
		})
		se.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(se.status)
		_, _ = io.WriteString(w, se.body)
	}))
	t.Cleanup(se.srv.Close)
	return se
}

func (se *stubEngine) last(t *testing.T) seenRequest {
	t.Helper()
	se.mu.Lock()
	defer se.mu.Unlock()
	if len(se.seen) == 0 {
		t.Fatalf("no request reached the engine")
	}
	return se.seen[len(se.seen)-1]
}

func executeRootCommand(t *testing.T, stdin io.Reader, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv(esclient.ConfigDirEnv, t.TempDir())
	cmd := newRootCommand(pslog.NewStructured(io.Discard))
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if stdin != nil {
		cmd.SetIn(stdin)
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersionCommandPrintsCurrentVersion(t *testing.T) {
	stdout, stderr, err := executeRootCommand(t, nil, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if stderr != "" {
		t.Fatalf("expected empty stderr, got %q", stderr)
	}
	want := version.Module() + " " + version.Current() + "\n"
	if stdout != want {
		t.Fatalf("unexpected stdout: got %q want %q", stdout, want)
	}
}

func TestConfigGenStdout(t *testing.T) {
	stdout, _, err := executeRootCommand(t, nil, "config", "gen", "--stdout")
	if err != nil {
		t.Fatalf("config gen: %v", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(stdout), &doc); err != nil {
		t.Fatalf("generated config is not YAML: %v\n%s", err, stdout)
	}
	if doc["server"] != esclient.DefaultServer {
		t.Fatalf("unexpected server %v", doc["server"])
	}
	if doc["timeout"] != esclient.DefaultTimeout.String() {
		t.Fatalf("unexpected timeout %v", doc["timeout"])
	}
}

func TestConfigGenRefusesOverwrite(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if _, _, err := executeRootCommand(t, nil, "config", "gen", "--out", out); err != nil {
		t.Fatalf("first gen: %v", err)
	}
	info, err := os.Stat(out)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected mode %v", info.Mode().Perm())
	}
	_, _, err = executeRootCommand(t, nil, "config", "gen", "--out", out)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected overwrite refusal, got %v", err)
	}
	if _, _, err := executeRootCommand(t, nil, "config", "gen", "--out", out, "--force"); err != nil {
		t.Fatalf("forced gen: %v", err)
	}
}

func TestConfigGenExpandsOutPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if _, _, err := executeRootCommand(t, nil, "config", "gen", "--out", "~/esclient/config.yaml"); err != nil {
		t.Fatalf("config gen: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, "esclient", "config.yaml")); err != nil {
		t.Fatalf("expected config under home: %v", err)
	}
}

func TestGetPrintsPrettyBody(t *testing.T) {
	se := newStubEngine(t, http.StatusOK, `{"found":true,"_source":{"name":"carbonara"}}`)
	stdout, _, err := executeRootCommand(t, nil, "--server", se.srv.URL, "--pretty", "get", "kitchen", "dish", "1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(stdout, "\n  \"found\": true") {
		t.Fatalf("expected indented output, got %q", stdout)
	}
	req := se.last(t)
	if req.method != http.MethodGet || req.path != "/kitchen/dish/1" {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.cid == "" {
		t.Fatalf("expected a generated correlation id")
	}
}

func TestIndexGenerateID(t *testing.T) {
	se := newStubEngine(t, http.StatusCreated, `{"created":true}`)
	_, _, err := executeRootCommand(t, nil, "--server", se.srv.URL, "index", "kitchen", "dish", "--generate-id", "--body", `{"name":"carbonara"}`)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	req := se.last(t)
	if req.method != http.MethodPut {
		t.Fatalf("expected PUT, got %s", req.method)
	}
	id := strings.TrimPrefix(req.path, "/kitchen/dish/")
	if len(id) != 20 || strings.Contains(id, "/") {
		t.Fatalf("unexpected generated id in %q", req.path)
	}
	if req.body != `{"name":"carbonara"}` {
		t.Fatalf("unexpected body %q", req.body)
	}

	_, _, err = executeRootCommand(t, nil, "--server", se.srv.URL, "index", "kitchen", "dish", "7", "--generate-id", "--body", `{}`)
	if err == nil {
		t.Fatalf("expected conflict between id and --generate-id")
	}
}

func TestBulkFromStdinUsesDefaults(t *testing.T) {
	se := newStubEngine(t, http.StatusOK, `{"took":1,"errors":false,"items":[]}`)
	input := strings.NewReader("{\"index\":{\"_id\":\"1\"}}\n{\"name\":\"carbonara\"}\n{\"delete\":{\"_id\":\"2\"}}\n")
	_, _, err := executeRootCommand(t, input, "--server", se.srv.URL, "--opt", "refresh=true",
		"bulk", "--file", "-", "--index", "kitchen", "--type", "dish")
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	req := se.last(t)
	if req.method != http.MethodPost || req.path != "/_bulk" || req.query != "refresh=true" {
		t.Fatalf("unexpected request %+v", req)
	}
	lines := strings.Split(strings.TrimSuffix(req.body, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 NDJSON lines, got %q", req.body)
	}
	if !strings.Contains(lines[0], `"_index":"kitchen"`) || !strings.Contains(lines[2], `"_type":"dish"`) {
		t.Fatalf("defaults not applied: %q", req.body)
	}
}

func TestSearchOptionsAndCorrelation(t *testing.T) {
	se := newStubEngine(t, http.StatusOK, `{"hits":{"total":0}}`)
	_, _, err := executeRootCommand(t, nil, "--server", se.srv.URL, "--correlation-id", "cli-test-1",
		"-o", "size=5", "search", "kitchen", "--body", `{"query":{"match_all":{}}}`)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	req := se.last(t)
	if req.path != "/kitchen/_search" || req.query != "size=5" || req.cid != "cli-test-1" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestCountQueryString(t *testing.T) {
	se := newStubEngine(t, http.StatusOK, `{"count":3}`)
	stdout, stderr, err := executeRootCommand(t, nil, "--server", se.srv.URL, "--stats", "count", "kitchen", "--q", "name:carbonara")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if strings.TrimSpace(stdout) != `{"count":3}` {
		t.Fatalf("unexpected stdout %q", stdout)
	}
	req := se.last(t)
	if req.method != http.MethodGet || req.path != "/kitchen/_count" || req.query != "q=name%3Acarbonara" {
		t.Fatalf("unexpected request %+v", req)
	}
	if !strings.Contains(stderr, "GET /kitchen/_count: ok") {
		t.Fatalf("expected stats line, got %q", stderr)
	}
}

func TestRemoteErrorBodyOnStderr(t *testing.T) {
	se := newStubEngine(t, http.StatusNotFound, `{"found":false}`)
	stdout, stderr, err := executeRootCommand(t, nil, "--server", se.srv.URL, "get", "kitchen", "dish", "missing")
	var remote *client.RemoteError
	if !errors.As(err, &remote) || !remote.NotFound() {
		t.Fatalf("expected not found remote error, got %v", err)
	}
	if exitCode(err) != 4 {
		t.Fatalf("unexpected exit code %d", exitCode(err))
	}
	if stdout != "" {
		t.Fatalf("expected empty stdout, got %q", stdout)
	}
	if !strings.Contains(stderr, `{"found":false}`) {
		t.Fatalf("expected error body on stderr, got %q", stderr)
	}
}

func TestInvalidBodyIsInvalidArguments(t *testing.T) {
	se := newStubEngine(t, http.StatusOK, `{}`)
	_, _, err := executeRootCommand(t, nil, "--server", se.srv.URL, "update", "kitchen", "dish", "1", "--body", "{")
	if !errors.Is(err, client.ErrInvalidArguments) {
		t.Fatalf("expected invalid arguments, got %v", err)
	}
	if exitCode(err) != 2 {
		t.Fatalf("unexpected exit code %d", exitCode(err))
	}
	se.mu.Lock()
	defer se.mu.Unlock()
	if len(se.seen) != 0 {
		t.Fatalf("no request expected, got %d", len(se.seen))
	}
}

func TestUnreachableServerIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	_, _, err := executeRootCommand(t, nil, "--server", addr, "--timeout", "2s", "get", "kitchen", "dish", "1")
	if !errors.Is(err, client.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if exitCode(err) != 5 {
		t.Fatalf("unexpected exit code %d", exitCode(err))
	}
}

func TestConfigFileSuppliesServer(t *testing.T) {
	se := newStubEngine(t, http.StatusOK, `{"acknowledged":true}`)
	path := filepath.Join(t.TempDir(), "esclient.yaml")
	content := "server: " + se.srv.URL + "\nusername: elastic\npassword: changeme\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, _, err := executeRootCommand(t, nil, "--config", path, "raw", "POST", "/kitchen/_refresh")
	if err != nil {
		t.Fatalf("raw: %v", err)
	}
	req := se.last(t)
	if req.method != http.MethodPost || req.path != "/kitchen/_refresh" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions([]string{"size=5", "routing=a=b"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts["size"] != "5" || opts["routing"] != "a=b" {
		t.Fatalf("unexpected options %v", opts)
	}
	if _, err := parseOptions([]string{"novalue"}); err == nil {
		t.Fatalf("expected error for missing '='")
	}
	if opts, err := parseOptions(nil); err != nil || opts != nil {
		t.Fatalf("expected nil options, got %v %v", opts, err)
	}
}
