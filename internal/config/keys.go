package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key    string
	typ    keyType
	env    string
	secret bool
	// account names the secret in the platform secret store.
	account string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "RAGDOCS_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "RAGDOCS_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "RAGDOCS_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "server.mcp_enabled", typ: kBool, env: "RAGDOCS_MCP_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCPEnabled },
	},
	{
		key: "server.api_key", typ: kString, env: "RAGDOCS_API_KEY",
		secret: true, account: "api_key",
		apply:   func(cfg *Config, v any) { cfg.Server.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIKey },
	},
	{
		key: "storage.data_dir", typ: kString, env: "RAGDOCS_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "input.dir", typ: kString, env: "RAGDOCS_INPUT_DIR",
		apply:   func(cfg *Config, v any) { cfg.Input.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Input.Dir },
	},
	{
		key: "input.workspace", typ: kString, env: "RAGDOCS_WORKSPACE",
		apply:   func(cfg *Config, v any) { cfg.Input.Workspace = v.(string) },
		extract: func(cfg Config) any { return cfg.Input.Workspace },
	},
	{
		key: "input.auto_scan", typ: kBool, env: "RAGDOCS_AUTO_SCAN",
		apply:   func(cfg *Config, v any) { cfg.Input.AutoScan = v.(bool) },
		extract: func(cfg Config) any { return cfg.Input.AutoScan },
	},
	{
		key: "input.scan_interval", typ: kDuration, env: "RAGDOCS_SCAN_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Input.ScanInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Input.ScanInterval },
	},
	{
		key: "extract.engine", typ: kString, env: "RAGDOCS_DOCUMENT_LOADING_ENGINE",
		apply:   func(cfg *Config, v any) { cfg.Extract.Engine = v.(string) },
		extract: func(cfg Config) any { return cfg.Extract.Engine },
	},
	{
		key: "extract.pdf_password", typ: kString, env: "RAGDOCS_PDF_DECRYPT_PASSWORD",
		secret: true, account: "pdf_password",
		apply:   func(cfg *Config, v any) { cfg.Extract.PDFPassword = v.(string) },
		extract: func(cfg Config) any { return cfg.Extract.PDFPassword },
	},
	{
		key: "extract.workers", typ: kInt, env: "RAGDOCS_MAX_PARALLEL_INSERT",
		apply:   func(cfg *Config, v any) { cfg.Extract.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Extract.Workers },
	},
	{
		key: "pipeline.status_backend", typ: kString, env: "RAGDOCS_STATUS_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.StatusBackend = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.StatusBackend },
	},
	{
		key: "engine.chunk_size", typ: kInt, env: "RAGDOCS_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Engine.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Engine.ChunkSize },
	},
	{
		key: "engine.chunk_overlap", typ: kInt, env: "RAGDOCS_CHUNK_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Engine.ChunkOverlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Engine.ChunkOverlap },
	},
	{
		key: "log.level", typ: kString, env: "RAGDOCS_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts a raw string into the key's Go type. Strings never fail.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func typeName(typ keyType) string {
	switch typ {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}
		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (s.typ != kString && raw == "") {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", typeName(s.typ), s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", typeName(s.typ), s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
