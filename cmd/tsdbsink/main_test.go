package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-tsdbsink/internal/auth"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/backend"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/future"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/mapper"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// writeConfig writes a minimal valid config plus extra YAML and points
// TSDBSINK_CONFIG at it.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
source:
  topics: ["sensors/#"]

deadletter:
  path: "` + filepath.Join(t.TempDir(), "deadletter.db") + `"

logging:
  level: error
  format: text

security:
  jwt:
    secret: "` + testSecret + `"
    token_ttl: 15
` + extra
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("TSDBSINK_CONFIG", path)
	return path
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("TSDBSINK_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	t.Setenv("TSDBSINK_CONFIG", "/custom/path/config.yaml")

	if path := getConfigPath(); path != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q", path)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("TSDBSINK_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_BackendUnavailable(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	writeConfig(t, `
tsdb:
  url: "`+closed.URL+`"
`)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "connecting to victoriametrics") {
		t.Fatalf("run() error = %v, want backend connection failure", err)
	}
}

func TestConnectBackend(t *testing.T) {
	vm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer vm.Close()

	cfg, err := config.Load(writeConfig(t, `
tsdb:
  url: "`+vm.URL+`"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	client, err := connectBackend(context.Background(), cfg)
	if err != nil {
		t.Fatalf("connectBackend() error = %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnectBackend_InfluxDBDisabled(t *testing.T) {
	cfg := &config.Config{
		Backend:  config.BackendConfig{Type: config.BackendInfluxDB},
		InfluxDB: config.InfluxDBConfig{URL: "http://127.0.0.1:8086", Org: "o", Bucket: "b"},
	}

	if _, err := connectBackend(context.Background(), cfg); !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("connectBackend() error = %v, want ErrDisabled", err)
	}
}

func TestConnectBackend_UnknownType(t *testing.T) {
	cfg := &config.Config{Backend: config.BackendConfig{Type: "opentsdb"}}

	if _, err := connectBackend(context.Background(), cfg); err == nil {
		t.Error("connectBackend() should reject an unknown backend type")
	}
}

type okWriter struct{}

func (okWriter) AddPoint(p backend.Point) *future.Future[backend.Point] {
	return future.Resolved(p)
}

type countingCollector struct {
	mu     sync.Mutex
	acked  []string
	failed []string
}

func (c *countingCollector) Ack(rec mapper.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked = append(c.acked, rec.ID())
}

func (c *countingCollector) Emit(rec mapper.Record, _ []backend.Point) { c.Ack(rec) }

func (c *countingCollector) Fail(rec mapper.Record, _ error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = append(c.failed, rec.ID())
}

func TestNewSink_ExecutesRecords(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	collector := &countingCollector{}
	s, err := newSink(cfg, okWriter{}, collector, nil, logging.Discard())
	if err != nil {
		t.Fatalf("newSink() error = %v", err)
	}
	if got := s.Stats().Mode; got != "async" {
		t.Errorf("Mode = %q, want async", got)
	}

	rec, err := mapper.DecodeJSON("r1", "sensors/cpu", []byte(`{"metric":"sys.cpu","timestamp":1700000000,"value":1.5,"tags":{"host":"a"}}`))
	if err != nil {
		t.Fatalf("DecodeJSON() error = %v", err)
	}
	if err := s.Execute(context.Background(), rec); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	collector.mu.Lock()
	defer collector.mu.Unlock()
	if len(collector.acked) != 1 || collector.acked[0] != "r1" || len(collector.failed) != 0 {
		t.Errorf("acked = %v, failed = %v", collector.acked, collector.failed)
	}
}

func TestNewSink_InvalidFailStrategy(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg.Sink.FailStrategy = "sometimes"

	if _, err := newSink(cfg, okWriter{}, &countingCollector{}, nil, logging.Discard()); err == nil {
		t.Error("newSink() should reject an unknown fail strategy")
	}
}

func TestRunToken(t *testing.T) {
	writeConfig(t, "")

	var out bytes.Buffer
	if err := runToken([]string{"-subject", "ci", "-role", "viewer"}, &out); err != nil {
		t.Fatalf("runToken() error = %v", err)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(out.String()), testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "ci" || claims.Role != auth.RoleViewer {
		t.Errorf("claims = %+v", claims)
	}

	ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if ttl != 15*time.Minute {
		t.Errorf("token lifetime = %v, want 15m from security.jwt.token_ttl", ttl)
	}
}

func TestRunToken_TTLFlag(t *testing.T) {
	writeConfig(t, "")

	var out bytes.Buffer
	if err := runToken([]string{"-ttl", "5"}, &out); err != nil {
		t.Fatalf("runToken() error = %v", err)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(out.String()), testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Role != auth.RoleOperator || claims.Subject != "admin" {
		t.Errorf("claims = %+v, want operator admin defaults", claims)
	}
	if ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time); ttl != 5*time.Minute {
		t.Errorf("token lifetime = %v, want 5m", ttl)
	}
}

func TestRunToken_Errors(t *testing.T) {
	writeConfig(t, "")

	tests := []struct {
		name string
		args []string
	}{
		{"unknown role", []string{"-role", "root"}},
		{"empty subject", []string{"-subject", ""}},
		{"unknown flag", []string{"-bogus"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := runToken(tt.args, &out); err == nil {
				t.Errorf("runToken(%v) should fail, wrote %q", tt.args, out.String())
			}
		})
	}
}
