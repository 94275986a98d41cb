package telemetry

import (
	"context"
	"strings"
	"testing"
)

func TestSetupTracingDisabled(t *testing.T) {
	for _, exporter := range []string{"", "none", " NONE "} {
		shutdown, err := SetupTracing(context.Background(), TraceConfig{Exporter: exporter}, nil)
		if err != nil {
			t.Fatalf("exporter %q: %v", exporter, err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	}
}

func TestSetupTracingRejectsBadConfig(t *testing.T) {
	_, err := SetupTracing(context.Background(), TraceConfig{Exporter: "zipkin"}, nil)
	if err == nil || !strings.Contains(err.Error(), "unsupported trace exporter") {
		t.Fatalf("expected unsupported exporter error, got %v", err)
	}

	_, err = SetupTracing(context.Background(), TraceConfig{Exporter: "otlp"}, nil)
	if err == nil || !strings.Contains(err.Error(), "requires endpoint") {
		t.Fatalf("expected missing endpoint error, got %v", err)
	}
}

func TestSampler(t *testing.T) {
	if got := sampler(0).Description(); !strings.Contains(got, "AlwaysOnSampler") {
		t.Fatalf("expected always-on sampler for ratio 0, got %s", got)
	}
	if got := sampler(0.25).Description(); !strings.Contains(got, "TraceIDRatioBased{0.25}") {
		t.Fatalf("expected ratio sampler, got %s", got)
	}
}
