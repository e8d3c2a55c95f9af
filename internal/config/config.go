package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Input    InputConfig
	Extract  ExtractConfig
	Pipeline PipelineConfig
	Engine   EngineConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host       string
	Port       int
	MaxConns   int
	MCPEnabled bool
	APIKey     string
}

type StorageConfig struct {
	DataDir string
}

type InputConfig struct {
	Dir       string
	Workspace string
	AutoScan  bool
	// ScanInterval enables periodic scanning when positive.
	ScanInterval time.Duration
}

type ExtractConfig struct {
	Engine      string
	PDFPassword string
	Workers     int
}

type PipelineConfig struct {
	StatusBackend string
}

type EngineConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

type LogConfig struct {
	Level string
}

// Status store backends.
const (
	StatusMemory = "memory"
	StatusSQLite = "sqlite"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:       "127.0.0.1",
			Port:       9621,
			MaxConns:   64,
			MCPEnabled: true,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Input: InputConfig{
			Dir: "./inputs",
		},
		Extract: ExtractConfig{
			Engine:  "default",
			Workers: 2,
		},
		Pipeline: PipelineConfig{
			StatusBackend: StatusMemory,
		},
		Engine: EngineConfig{
			ChunkSize:    1200,
			ChunkOverlap: 100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, a .env file in
// the working directory, environment variables, and the platform secret
// store.
//
// On macOS the backend is UserDefaults (domain: com.ragdocs.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/ragdocs/config.json
// and secrets fall back to $XDG_DATA_HOME/ragdocs/secrets.json.
//
// Environment variables (RAGDOCS_*) override .env values, which override
// backend values.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{}, ".env")
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain, envFiles ...string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	dotenv, err := readDotEnv(envFiles...)
	if err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg, func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	})

	// Try platform keychain for secrets still empty.
	for _, s := range specs {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if v, err := kc.Get("ragdocs", s.account); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	return cfg, nil
}

// readDotEnv merges the given .env files. Missing files are skipped.
func readDotEnv(files ...string) (map[string]string, error) {
	out := make(map[string]string)
	for _, f := range files {
		m, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f, err)
		}
		for k, v := range m {
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
	}
	return out, nil
}

// Validate reports every setting the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range 1-65535", c.Server.Port))
	}
	if c.Server.MaxConns < 1 {
		errs = append(errs, fmt.Errorf("server.max_conns must be positive, got %d", c.Server.MaxConns))
	}
	if c.Extract.Workers < 1 {
		errs = append(errs, fmt.Errorf("extract.workers must be positive, got %d", c.Extract.Workers))
	}
	switch strings.ToLower(c.Extract.Engine) {
	case "", "default", "docconv":
	default:
		errs = append(errs, fmt.Errorf("extract.engine %q is not one of default, docconv", c.Extract.Engine))
	}
	switch c.Pipeline.StatusBackend {
	case StatusMemory, StatusSQLite:
	default:
		errs = append(errs, fmt.Errorf("pipeline.status_backend %q is not one of memory, sqlite", c.Pipeline.StatusBackend))
	}
	if c.Engine.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("engine.chunk_size must be positive, got %d", c.Engine.ChunkSize))
	}
	if c.Engine.ChunkOverlap < 0 || c.Engine.ChunkOverlap >= c.Engine.ChunkSize {
		errs = append(errs, fmt.Errorf("engine.chunk_overlap %d must be in [0, chunk_size)", c.Engine.ChunkOverlap))
	}
	if c.Input.ScanInterval < 0 {
		errs = append(errs, fmt.Errorf("input.scan_interval must not be negative"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLevel maps log.level to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q is not one of debug, info, warn, error", s)
	}
	return l, nil
}

// Addr returns host:port for the HTTP listener.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// keychainReader reads secrets from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
