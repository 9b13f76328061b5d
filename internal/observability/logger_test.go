package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/sandworm/sandworm/internal/config"
)

func TestNewLoggerJSONCarriesServiceAndProfile(t *testing.T) {
	var out bytes.Buffer
	cfg := config.Config{
		Profile:       config.ProfileProd,
		Service:       config.ServiceConfig{Name: "sandwormctl"},
		Observability: config.ObservabilityConfig{LogLevel: slog.LevelInfo, LogJSON: true},
	}
	logger := NewLogger(cfg, &out)
	logger.Debug("hidden")
	logger.Info("execution_completed", slog.String("execution_id", "e1"))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("log lines = %d: %s", len(lines), out.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if entry["service"] != "sandwormctl" || entry["profile"] != "prod" || entry["execution_id"] != "e1" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestNewLoggerTextAndNilWriter(t *testing.T) {
	var out bytes.Buffer
	cfg := config.Config{Profile: config.ProfileDev, Service: config.ServiceConfig{Name: "svc"}}
	NewLogger(cfg, &out).Info("hello")
	if !strings.Contains(out.String(), "service=svc") {
		t.Fatalf("text output = %q", out.String())
	}
	NewLogger(cfg, nil).Info("discarded")
}
