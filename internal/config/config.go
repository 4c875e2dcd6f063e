// Package config resolves record-query's ambient settings: default output
// format, default query, schema registry root directory, and log level.
// Adapted from the teacher's `config/config.go` cluster-config loader —
// same layered-override shape, generalized from a SQL-backed per-user
// config to a single process-wide one since this CLI has no database and
// no concept of a logged-in user.
//
// Precedence, lowest to highest: built-in defaults, then
// `~/.config/record-query/config.json` (validated with
// `santhosh-tekuri/jsonschema/v5` exactly as `internal/config/validate.go`
// validates `cluster.json`), then `RQ_*` environment variables. Command-line
// flags are applied on top of the result by the driver, which owns flag
// parsing and knows which flags were explicitly set.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/recordquery/rq/internal/rqerr"
)

// Config is the full set of settings record-query resolves before running
// a pipeline.
type Config struct {
	OutputFormat string `json:"outputFormat"`
	Query        string `json:"query"`
	RegistryDir  string `json:"registryDir"`
	LogLevel     string `json:"logLevel"`
}

// Default returns the built-in baseline settings, before any file or
// environment override is applied.
func Default() Config {
	return Config{
		OutputFormat: "json",
		Query:        "id",
		RegistryDir:  defaultRegistryDir(),
		LogLevel:     "warn-default",
	}
}

func defaultRegistryDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".record-query", "schemas")
	}
	return filepath.Join(home, ".config", "record-query", "schemas")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "record-query", "config.json")
}

// configSchema constrains the shape of config.json the same way
// internal/config/validate.go's cclog.Fatalf-on-bad-cluster.json does for
// cluster.json, except record-query returns the validation failure as an
// error rather than terminating the process from inside a library package.
const configSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "outputFormat": {"type": "string"},
    "query": {"type": "string"},
    "registryDir": {"type": "string"},
    "logLevel": {"type": "string"}
  }
}`

// Load resolves Config from built-in defaults, overridden by
// ~/.config/record-query/config.json if present, overridden in turn by any
// RQ_* environment variables that are set.
func Load() (Config, error) {
	cfg := Default()

	if path := defaultConfigPath(); path != "" {
		if err := mergeFile(&cfg, path); err != nil {
			return cfg, err
		}
	}

	mergeEnv(&cfg)
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return rqerr.New(rqerr.IO, "read config file %q: %v", path, err).WithCause(err)
	}

	if err := validate(data); err != nil {
		return err
	}

	var overlay Config
	if err := json.Unmarshal(data, &overlay); err != nil {
		return rqerr.New(rqerr.Usage, "parse config file %q: %v", path, err).WithCause(err)
	}

	if overlay.OutputFormat != "" {
		cfg.OutputFormat = overlay.OutputFormat
	}
	if overlay.Query != "" {
		cfg.Query = overlay.Query
	}
	if overlay.RegistryDir != "" {
		cfg.RegistryDir = overlay.RegistryDir
	}
	if overlay.LogLevel != "" {
		cfg.LogLevel = overlay.LogLevel
	}
	return nil
}

func validate(data []byte) error {
	sch, err := jsonschema.CompileString("record-query-config.json", configSchema)
	if err != nil {
		return rqerr.New(rqerr.Usage, "compile config schema: %v", err).WithCause(err)
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return rqerr.New(rqerr.Usage, "parse config file: %v", err).WithCause(err)
	}

	if err := sch.Validate(v); err != nil {
		return rqerr.New(rqerr.Usage, "invalid config file: %v", err).WithCause(err)
	}
	return nil
}

func mergeEnv(cfg *Config) {
	if v, ok := os.LookupEnv("RQ_OUTPUT_FORMAT"); ok {
		cfg.OutputFormat = v
	}
	if v, ok := os.LookupEnv("RQ_QUERY"); ok {
		cfg.Query = v
	}
	if v, ok := os.LookupEnv("RQ_REGISTRY_DIR"); ok {
		cfg.RegistryDir = v
	}
	if v, ok := os.LookupEnv("RQ_LOGLEVEL"); ok {
		cfg.LogLevel = v
	}
}
