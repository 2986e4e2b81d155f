package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	config := DefaultConfig()
	config.Output = &buf
	config.Level = INFO

	logger := New(config)
	compLogger := logger.WithComponent(ComponentApp)

	compLogger.Debug("This should not appear")
	compLogger.Info("This should appear")
	compLogger.Warn("This should appear")
	compLogger.Error("This should appear")

	output := buf.String()
	if strings.Contains(output, "This should not appear") {
		t.Error("DEBUG message should be filtered out")
	}
	if got := strings.Count(output, "This should appear"); got != 3 {
		t.Errorf("expected 3 visible entries, got %d", got)
	}
}

func TestLogger_Components(t *testing.T) {
	var buf bytes.Buffer
	config := DefaultConfig()
	config.Output = &buf

	logger := New(config)
	logger.WithComponent(ComponentGateway).Info("Gateway message")
	logger.WithComponent(ComponentKeys).Info("Keys message")

	output := buf.String()
	if !strings.Contains(output, "Gateway message") {
		t.Error("gateway is enabled by default")
	}
	if strings.Contains(output, "Keys message") {
		t.Error("keys should be filtered out by default")
	}

	logger.EnableComponent(ComponentKeys)
	logger.WithComponent(ComponentKeys).Info("Keys message")
	if !strings.Contains(buf.String(), "Keys message") {
		t.Error("keys should appear once enabled")
	}
}

func TestLogger_Formats(t *testing.T) {
	var buf bytes.Buffer
	config := DefaultConfig()
	config.Output = &buf
	config.Format = FormatJSON

	New(config).WithComponent(ComponentApp).Info("Test message", Fields{"key": "value"})

	output := buf.String()
	for _, want := range []string{`"level":"INFO"`, `"component":"app"`, `"message":"Test message"`, `"key":"value"`} {
		if !strings.Contains(output, want) {
			t.Errorf("JSON output %q missing %s", output, want)
		}
	}
}

func TestLogger_FieldsSortedAndMerged(t *testing.T) {
	var buf bytes.Buffer
	config := DefaultConfig()
	config.Output = &buf

	New(config).WithComponent(ComponentApp).Info("probe",
		Fields{"tier": "impersonation", "attempt": 1},
		Fields{"attempt": 2},
	)

	if got := strings.TrimSpace(buf.String()); got != "[INFO] [app] probe attempt=2 tier=impersonation" {
		t.Errorf("unexpected line: %q", got)
	}
}

func TestLogger_ColorContainsMessage(t *testing.T) {
	var buf bytes.Buffer
	config := DefaultConfig()
	config.Output = &buf
	config.Format = FormatColor

	New(config).WithComponent(ComponentApp).Warn("colored", Fields{"k": "v"})
	if !strings.Contains(buf.String(), "colored") {
		t.Error("message missing from color output")
	}
}

func TestGlobalLogger(t *testing.T) {
	prev := GetGlobalLogger()
	defer SetGlobalLogger(prev)

	var buf bytes.Buffer
	config := DefaultConfig()
	config.Output = &buf
	SetGlobalLogger(New(config))

	WithComponent(ComponentApp).Info("Global logger test")
	if !strings.Contains(buf.String(), "Global logger test") {
		t.Error("Global logger should work")
	}
}

func TestLogger_Concurrency(t *testing.T) {
	var buf bytes.Buffer
	config := DefaultConfig()
	config.Output = &buf

	compLogger := New(config).WithComponent(ComponentApp)
	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func(i int) {
			compLogger.Info("Concurrent message", Fields{"goroutine": i})
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 10 {
		t.Errorf("Expected 10 log lines, got %d", len(lines))
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	if l.Enabled(ERROR, ComponentApp) {
		t.Error("Discard logger should not enable anything")
	}
}

func TestParseHelpers(t *testing.T) {
	if lvl, err := ParseLevel("warning"); err != nil || lvl != WARN {
		t.Errorf("ParseLevel(warning) = %v, %v", lvl, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(JSON) = %v, %v", f, err)
	}
	if n, err := ParseSize("10MB"); err != nil || n != 10<<20 {
		t.Errorf("ParseSize(10MB) = %d, %v", n, err)
	}
	if d, err := ParseDuration("2d"); err != nil || d.Hours() != 48 {
		t.Errorf("ParseDuration(2d) = %v, %v", d, err)
	}
}

func TestFromEnvironment(t *testing.T) {
	t.Setenv(EnvLevel, "debug")
	t.Setenv(EnvComponents, "keys, unmask")
	t.Setenv(EnvTimestamp, "true")

	lc := FromEnvironment(nil)
	if lc.Level != "debug" || !lc.Timestamp {
		t.Errorf("env overrides not applied: %+v", lc)
	}
	if !lc.Components["keys"] || !lc.Components["unmask"] {
		t.Errorf("components not enabled: %v", lc.Components)
	}
	cfg, err := lc.ToLoggerConfig()
	if err != nil {
		t.Fatalf("ToLoggerConfig: %v", err)
	}
	if cfg.Level != DEBUG {
		t.Errorf("level = %v", cfg.Level)
	}
}

func TestRotatingWriter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "app.log")
	rw, err := NewRotatingWriter(path, 16, 0, 1, false)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer rw.Close()

	for i := 0; i < 3; i++ {
		if _, err := rw.Write([]byte("0123456789\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read active file: %v", err)
	}
	if string(data) != "0123456789\n" {
		t.Errorf("active file = %q", data)
	}
	if got := len(rw.backups()); got != 1 {
		t.Errorf("expected 1 backup after pruning, got %d", got)
	}
}
