package svcfields

import (
	"bytes"
	"strings"
	"testing"

	"pkt.systems/pslog"
)

func TestSubsystemSkipsEmptyParts(t *testing.T) {
	if got := Subsystem("client", "", ".sdk. "); got != "client.sdk" {
		t.Fatalf("unexpected subsystem %q", got)
	}
	if got := Subsystem(); got != "" {
		t.Fatalf("expected empty subsystem, got %q", got)
	}
}

func TestWithSubsystemTagsEntries(t *testing.T) {
	var buf bytes.Buffer
	logger := pslog.NewStructured(&buf).LogLevel(pslog.InfoLevel)
	WithSubsystem(logger, ClientSDK).Info("client.init")
	if !strings.Contains(buf.String(), "client.sdk") {
		t.Fatalf("expected subsystem in output, got %q", buf.String())
	}
	if WithSubsystem(nil, "") == nil {
		t.Fatalf("expected noop logger for nil input")
	}
}
