package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	values map[string]string
	err    error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if service != "ragdocs" {
		return "", errors.New("unknown service")
	}
	return m.values[account], nil
}

// mapBackend is an in-memory ConfigBackend.
type mapBackend struct {
	strs map[string]string
	ints map[string]int
}

func newMapBackend() *mapBackend {
	return &mapBackend{strs: map[string]string{}, ints: map[string]int{}}
}

func (b *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := b.strs[key]
	return v, ok, nil
}

func (b *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.ints[key]
	return v, ok, nil
}

func (b *mapBackend) SetString(key, val string) error { b.strs[key] = val; return nil }
func (b *mapBackend) SetInt(key string, val int) error { b.ints[key] = val; return nil }

func (b *mapBackend) Delete(key string) error {
	delete(b.strs, key)
	delete(b.ints, key)
	return nil
}

// clearEnv blanks every RAGDOCS_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMapBackend(), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9621 {
		t.Errorf("Server.Port = %d, want 9621", cfg.Server.Port)
	}
	if cfg.Server.MaxConns != 64 {
		t.Errorf("Server.MaxConns = %d, want 64", cfg.Server.MaxConns)
	}
	if !cfg.Server.MCPEnabled {
		t.Error("Server.MCPEnabled = false, want true")
	}
	if cfg.Input.Dir != "./inputs" {
		t.Errorf("Input.Dir = %q, want ./inputs", cfg.Input.Dir)
	}
	if cfg.Extract.Workers != 2 {
		t.Errorf("Extract.Workers = %d, want 2", cfg.Extract.Workers)
	}
	if cfg.Pipeline.StatusBackend != StatusMemory {
		t.Errorf("Pipeline.StatusBackend = %q, want memory", cfg.Pipeline.StatusBackend)
	}
	if cfg.Engine.ChunkSize != 1200 || cfg.Engine.ChunkOverlap != 100 {
		t.Errorf("Engine = %+v, want 1200/100", cfg.Engine)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestBackendValues(t *testing.T) {
	clearEnv(t)

	b := newMapBackend()
	b.ints["server.port"] = 8080
	b.strs["input.dir"] = "/srv/inputs"
	b.strs["input.auto_scan"] = "true"
	b.strs["input.scan_interval"] = "30s"
	b.strs["pipeline.status_backend"] = "sqlite"

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Input.Dir != "/srv/inputs" {
		t.Errorf("Input.Dir = %q", cfg.Input.Dir)
	}
	if !cfg.Input.AutoScan {
		t.Error("Input.AutoScan = false, want true")
	}
	if cfg.Input.ScanInterval != 30*time.Second {
		t.Errorf("Input.ScanInterval = %v, want 30s", cfg.Input.ScanInterval)
	}
	if cfg.Pipeline.StatusBackend != StatusSQLite {
		t.Errorf("Pipeline.StatusBackend = %q", cfg.Pipeline.StatusBackend)
	}
}

func TestBackendBadBoolKeepsDefault(t *testing.T) {
	clearEnv(t)

	b := newMapBackend()
	b.strs["server.mcp_enabled"] = "maybe"

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Server.MCPEnabled {
		t.Error("unparseable bool should keep the default")
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("RAGDOCS_PORT", "7000")
	t.Setenv("RAGDOCS_WORKSPACE", "team-a")
	t.Setenv("RAGDOCS_MAX_PARALLEL_INSERT", "8")
	t.Setenv("RAGDOCS_DOCUMENT_LOADING_ENGINE", "DOCCONV")

	b := newMapBackend()
	b.ints["server.port"] = 8080

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000", cfg.Server.Port)
	}
	if cfg.Input.Workspace != "team-a" {
		t.Errorf("Input.Workspace = %q", cfg.Input.Workspace)
	}
	if cfg.Extract.Workers != 8 {
		t.Errorf("Extract.Workers = %d", cfg.Extract.Workers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("engine name should match case-insensitively: %v", err)
	}
}

func TestEnvBadIntKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("RAGDOCS_PORT", "not-a-port")

	cfg, err := loadWith(newMapBackend(), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9621 {
		t.Errorf("Server.Port = %d, want default 9621", cfg.Server.Port)
	}
}

func TestDotEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	content := "RAGDOCS_INPUT_DIR=/data/in\nRAGDOCS_LOG_LEVEL=debug\nRAGDOCS_API_KEY=from-dotenv\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RAGDOCS_LOG_LEVEL", "warn")

	cfg, err := loadWith(newMapBackend(), mockKeychain{values: map[string]string{"api_key": "from-keychain"}}, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Input.Dir != "/data/in" {
		t.Errorf("Input.Dir = %q, want /data/in", cfg.Input.Dir)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, environment should beat .env", cfg.Log.Level)
	}
	if cfg.Server.APIKey != "from-dotenv" {
		t.Errorf("Server.APIKey = %q, .env should beat keychain", cfg.Server.APIKey)
	}
}

func TestDotEnvMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := loadWith(newMapBackend(), mockKeychain{}, filepath.Join(t.TempDir(), "absent.env"))
	if err != nil {
		t.Fatalf("missing .env should be ignored: %v", err)
	}
}

func TestKeychainFallback(t *testing.T) {
	clearEnv(t)

	kc := mockKeychain{values: map[string]string{"api_key": "kc-key", "pdf_password": "kc-pdf"}}
	cfg, err := loadWith(newMapBackend(), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.APIKey != "kc-key" {
		t.Errorf("Server.APIKey = %q", cfg.Server.APIKey)
	}
	if cfg.Extract.PDFPassword != "kc-pdf" {
		t.Errorf("Extract.PDFPassword = %q", cfg.Extract.PDFPassword)
	}
}

func TestKeychainErrorIgnored(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(newMapBackend(), mockKeychain{err: errors.New("locked")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.APIKey != "" {
		t.Errorf("Server.APIKey = %q, want empty", cfg.Server.APIKey)
	}
}

func TestSecretsNotReadFromBackend(t *testing.T) {
	clearEnv(t)
	b := newMapBackend()
	b.strs["server.api_key"] = "plain-text"

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.APIKey != "" {
		t.Errorf("Server.APIKey = %q, backend must not supply secrets", cfg.Server.APIKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"no workers", func(c *Config) { c.Extract.Workers = 0 }, "extract.workers"},
		{"unknown engine", func(c *Config) { c.Extract.Engine = "ocr" }, "extract.engine"},
		{"unknown backend", func(c *Config) { c.Pipeline.StatusBackend = "redis" }, "pipeline.status_backend"},
		{"overlap too large", func(c *Config) { c.Engine.ChunkOverlap = 1200 }, "engine.chunk_overlap"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"negative interval", func(c *Config) { c.Input.ScanInterval = -time.Second }, "input.scan_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAll(t *testing.T) {
	cfg := defaults()
	cfg.Server.Port = 0
	cfg.Extract.Workers = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "server.port") || !strings.Contains(err.Error(), "extract.workers") {
		t.Errorf("Validate() = %v, want both problems", err)
	}
}

func TestSetKey(t *testing.T) {
	b := newMapBackend()

	if err := setKey(b, "server.port", "9000"); err != nil {
		t.Fatalf("setKey port: %v", err)
	}
	if b.ints["server.port"] != 9000 {
		t.Errorf("server.port = %d", b.ints["server.port"])
	}
	if err := setKey(b, "input.auto_scan", "true"); err != nil {
		t.Fatalf("setKey bool: %v", err)
	}
	if b.strs["input.auto_scan"] != "true" {
		t.Errorf("input.auto_scan = %q", b.strs["input.auto_scan"])
	}

	if err := setKey(b, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKey(b, "input.scan_interval", "soon"); err == nil {
		t.Error("expected error for bad duration")
	}
	if err := setKey(b, "server.api_key", "x"); err == nil {
		t.Error("expected error for secret key")
	}
	if err := setKey(b, "nope.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Server.APIKey = "hunter2"

	for _, ki := range ShowAll(cfg) {
		switch ki.Key {
		case "server.api_key":
			if ki.Value != "(set)" {
				t.Errorf("api key shown as %q", ki.Value)
			}
		case "extract.pdf_password":
			if ki.Value != "(unset)" {
				t.Errorf("pdf password shown as %q", ki.Value)
			}
		}
	}
}

func TestValidKeysExcludeSecrets(t *testing.T) {
	for _, k := range ValidKeys() {
		if k == "server.api_key" || k == "extract.pdf_password" {
			t.Errorf("ValidKeys contains secret %q", k)
		}
	}
	if len(SecretKeys()) != 2 {
		t.Errorf("SecretKeys() = %v", SecretKeys())
	}
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"debug", "INFO", "warn", "error"} {
		if _, err := ParseLevel(s); err != nil {
			t.Errorf("ParseLevel(%q): %v", s, err)
		}
	}
}
