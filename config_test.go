package esclient

import (
	"context"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"pkt.systems/pslog"
)

func TestConfigValidateAppliesDefaults(t *testing.T) {
	var cfg Config
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Server != DefaultServer || cfg.Timeout != DefaultTimeout || cfg.LogLevel != DefaultLogLevel {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	level, err := cfg.Level()
	if err != nil || level != pslog.Disabled {
		t.Fatalf("expected disabled level, got %v (%v)", level, err)
	}
}

func TestConfigValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "password without username", cfg: Config{Password: "secret"}},
		{name: "runtime metrics without listener", cfg: Config{RuntimeMetrics: true}},
		{name: "bad log level", cfg: Config{LogLevel: "loud"}},
		{name: "unsupported scheme", cfg: Config{Server: "unix:///tmp/es.sock"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); err == nil {
				t.Fatalf("expected error for %+v", tt.cfg)
			}
		})
	}
}

func TestConfigEndpoints(t *testing.T) {
	cfg := Config{Server: "es1,es2:9201", Secure: true}
	got, err := cfg.Endpoints()
	if err != nil {
		t.Fatalf("endpoints: %v", err)
	}
	want := []string{"https://es1:9200", "https://es2:9201"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("endpoints=%v, want %v", got, want)
	}
}

func TestConfigNewClient(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server = "http://search.local:9200"
	cfg.Username = "elastic"
	cfg.Password = "changeme"
	cfg.Timeout = 2 * time.Second
	cli, err := cfg.NewClient(nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer cli.Close()
	if eps := cli.Endpoints(); len(eps) != 1 || eps[0] != "http://search.local:9200" {
		t.Fatalf("unexpected endpoints %v", eps)
	}
}

func TestDefaultConfigDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(ConfigDirEnv, dir)
	got, err := DefaultConfigDir()
	if err != nil {
		t.Fatalf("config dir: %v", err)
	}
	if got != dir {
		t.Fatalf("config dir=%q, want %q", got, dir)
	}
	path, err := DefaultConfigPath()
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if path != filepath.Join(dir, DefaultConfigFileName) {
		t.Fatalf("unexpected config path %q", path)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	got, err := ExpandPath("~/cfg.yaml")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if got != filepath.Join(home, "cfg.yaml") {
		t.Fatalf("expand=%q", got)
	}
	if got, _ := ExpandPath("  "); got != "" {
		t.Fatalf("expected empty path, got %q", got)
	}
	dir := t.TempDir()
	t.Setenv("ESCLIENT_TEST_DIR", dir)
	got, err = ExpandPath("$ESCLIENT_TEST_DIR/config.yaml")
	if err != nil {
		t.Fatalf("expand env: %v", err)
	}
	if got != filepath.Join(dir, "config.yaml") {
		t.Fatalf("expand env=%q", got)
	}
}

func TestConfigNewClientTrustsCAFile(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"found":true}`)
	}))
	defer srv.Close()
	caFile := filepath.Join(t.TempDir(), "ca.pem")
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	if err := os.WriteFile(caFile, caPEM, 0o600); err != nil {
		t.Fatalf("write ca: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Server = srv.URL
	cfg.CAFile = caFile
	cli, err := cfg.NewClient(nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer cli.Close()
	call, err := cli.Get(context.Background(), "kitchen", "dish", "1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := call.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	body, err := call.Result()
	if err != nil {
		t.Fatalf("result over trusted TLS: %v", err)
	}
	if string(body) != `{"found":true}` {
		t.Fatalf("unexpected body %q", body)
	}

	cfg.CAFile = filepath.Join(t.TempDir(), "missing.pem")
	if _, err := cfg.NewClient(nil); err == nil {
		t.Fatalf("expected error for missing ca file")
	}
}
