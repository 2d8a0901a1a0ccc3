package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/KobaKhit/rebelzapp-sub001/internal/config"
)

func TestNewLevels(t *testing.T) {
	for _, dev := range []bool{true, false} {
		logger, err := New(dev, "warn")
		if err != nil {
			t.Fatalf("New(%v): %v", dev, err)
		}
		if logger.Core().Enabled(zapcore.InfoLevel) {
			t.Errorf("dev=%v: info should be disabled at warn", dev)
		}
		if !logger.Core().Enabled(zapcore.ErrorLevel) {
			t.Errorf("dev=%v: error should be enabled", dev)
		}
	}
}

func TestDefaultConfigKeepsInfoOffTheTerminal(t *testing.T) {
	cfg := config.Default()
	logger, err := New(cfg.Development(), cfg.LogLevel)
	if err != nil {
		t.Fatal(err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("default CLI logger writes info entries to stderr")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Error("default CLI logger should still report warnings")
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(false, "loud"); err == nil {
		t.Fatal("expected error")
	}
}

func TestLogrWritesThroughZap(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := Logr(zap.New(core))

	l.Info("exporter ready", "endpoint", "collector:4317")
	l.V(1).Info("too chatty")

	if logs.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", logs.Len())
	}
	entry := logs.All()[0]
	if entry.Message != "exporter ready" || entry.ContextMap()["endpoint"] != "collector:4317" {
		t.Errorf("unexpected entry %+v", entry)
	}
}
