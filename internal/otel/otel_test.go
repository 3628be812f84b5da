package otel_test

import (
	"context"
	"testing"

	otelx "github.com/flashing/seafile/internal/otel"
)

func TestInitDisabledIsNoop(t *testing.T) {
	p, err := otelx.Init(context.Background(), otelx.Config{Enabled: false})
	if err != nil {
		t.Fatalf("init disabled: %v", err)
	}
	if p.Tracer == nil || p.Meter == nil {
		t.Fatal("expected no-op tracer and meter")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitStdoutExporter(t *testing.T) {
	p, err := otelx.Init(context.Background(), otelx.Config{
		Enabled:  true,
		Exporter: "stdout",
	})
	if err != nil {
		t.Fatalf("init stdout: %v", err)
	}
	defer p.Shutdown(context.Background())

	if _, err := otelx.NewMetrics(p.Meter); err != nil {
		t.Fatalf("create metrics: %v", err)
	}
}

func TestInitUnknownExporter(t *testing.T) {
	if _, err := otelx.Init(context.Background(), otelx.Config{
		Enabled:  true,
		Exporter: "carrier-pigeon",
	}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}
