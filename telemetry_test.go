package esclient

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func TestResolveOTLPTarget(t *testing.T) {
	tests := []struct {
		raw     string
		want    otlpTarget
		wantErr bool
	}{
		{raw: "collector", want: otlpTarget{protocol: "grpc", endpoint: "collector:4317", insecure: true}},
		{raw: "collector:5555", want: otlpTarget{protocol: "grpc", endpoint: "collector:5555", insecure: true}},
		{raw: "grpcs://collector", want: otlpTarget{protocol: "grpc", endpoint: "collector:4317"}},
		{raw: "http://collector/v1/traces/", want: otlpTarget{protocol: "http", endpoint: "collector:4318", path: "/v1/traces", insecure: true}},
		{raw: "https://collector:443", want: otlpTarget{protocol: "http", endpoint: "collector:443"}},
		{raw: "ftp://collector", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := resolveOTLPTarget(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if got != tt.want {
				t.Fatalf("resolve(%q)=%+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestSetupTelemetryDisabled(t *testing.T) {
	tel, err := SetupTelemetry(context.Background(), TelemetryConfig{}, nil)
	if err != nil || tel != nil {
		t.Fatalf("expected nil bundle, got %v %v", tel, err)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil shutdown: %v", err)
	}
	if tel.TracerProvider() == nil || tel.MeterProvider() == nil {
		t.Fatalf("nil bundle must fall back to global providers")
	}
}

func TestSetupTelemetryServesMetrics(t *testing.T) {
	prevMP := otel.GetMeterProvider()
	t.Cleanup(func() { otel.SetMeterProvider(prevMP) })

	tel, err := SetupTelemetry(context.Background(), TelemetryConfig{MetricsListen: "127.0.0.1:0"}, nil)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(ctx)
	})
	counter, err := tel.MeterProvider().Meter("esclient.test").Int64Counter("esclient.probe")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	counter.Add(context.Background(), 3)

	resp, err := http.Get("http://" + tel.MetricsAddr() + "/metrics")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("scrape status %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "esclient_probe") {
		t.Fatalf("probe metric missing from scrape:\n%s", body)
	}
}
