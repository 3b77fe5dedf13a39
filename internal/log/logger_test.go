package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func captureLogger(buf *bytes.Buffer, component string) *Logger {
	return New(Config{
		Level:     slog.LevelDebug,
		Component: component,
		Handler:   slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	})
}

func TestLogger_CarriesComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf, ComponentApp)

	logger.Info("engine started", FieldBotID, int64(12))

	line := buf.String()
	if !strings.Contains(line, FieldComponent+"="+ComponentApp) {
		t.Fatalf("missing component attribute: %q", line)
	}
	if !strings.Contains(line, FieldBotID+"=12") {
		t.Fatalf("missing bot id attribute: %q", line)
	}
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf, ComponentApp).WithComponent(ComponentWorker)

	logger.Warn("sweep slow")

	if !strings.Contains(buf.String(), FieldComponent+"="+ComponentWorker) {
		t.Fatalf("missing reassigned component: %q", buf.String())
	}
	if logger.Component() != ComponentWorker {
		t.Fatalf("component = %q", logger.Component())
	}
}

func TestC(t *testing.T) {
	var buf bytes.Buffer
	plain := slog.New(slog.NewTextHandler(&buf, nil))

	plain.Info("Swept inactive conversations", C(ComponentStore), FieldEvicted, 3)

	line := buf.String()
	if !strings.Contains(line, FieldComponent+"="+ComponentStore) {
		t.Fatalf("missing component attribute: %q", line)
	}
	if !strings.Contains(line, FieldEvicted+"=3") {
		t.Fatalf("missing evicted attribute: %q", line)
	}
}
