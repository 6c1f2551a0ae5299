package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestComponentNameFromContext(t *testing.T) {
	ctx := WithComponentName(context.Background(), "serve")
	if got := ComponentNameFromContext(ctx); got != "serve" {
		t.Errorf("expected serve, got %q", got)
	}
	if got := ComponentNameFromContext(context.Background()); got != "" {
		t.Errorf("expected empty name for bare context, got %q", got)
	}
}

func TestLogCarriesComponentField(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	old := Logger
	SetLogger(zap.New(core))
	defer SetLogger(old)

	Info(WithComponentName(context.Background(), "serve"), "hello")
	Info(context.Background(), "plain")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["component"] != "serve" {
		t.Errorf("expected component field serve, got %v", fields)
	}
	if _, ok := entries[1].ContextMap()["component"]; ok {
		t.Error("expected no component field without one in context")
	}
}
