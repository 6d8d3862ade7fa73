package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and are replaced by defaults (see WithDefaults).
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	// Acquisition
	AssetsDir   string `json:"assets_dir" yaml:"assets_dir" toml:"assets_dir"`
	CacheDir    string `json:"cache_dir" yaml:"cache_dir" toml:"cache_dir"`
	PacksDir    string `json:"packs_dir" yaml:"packs_dir" toml:"packs_dir"`
	PackBaseURL string `json:"pack_base_url" yaml:"pack_base_url" toml:"pack_base_url"`
	PackName    string `json:"pack_name" yaml:"pack_name" toml:"pack_name"`
	ModelFile   string `json:"model_file" yaml:"model_file" toml:"model_file"`
	WatchPacks  bool   `json:"watch_packs" yaml:"watch_packs" toml:"watch_packs"`
	// Files fetched for the pack; defaults to the model file alone.
	PackFiles []string `json:"pack_files" yaml:"pack_files" toml:"pack_files"`
	// Load a bundled model from the assets dir instead of copying it.
	LoadBundledInPlace bool `json:"load_bundled_in_place" yaml:"load_bundled_in_place" toml:"load_bundled_in_place"`

	// Generation. Temperature is a pointer so an explicit 0 is kept.
	Temperature *float32 `json:"temperature" yaml:"temperature" toml:"temperature"`
	MaxTokens   int      `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	TopK        int      `json:"top_k" yaml:"top_k" toml:"top_k"`

	// Engine backend: "llama" (in-process) or "server" (llama.cpp HTTP server).
	Engine         string `json:"engine" yaml:"engine" toml:"engine"`
	LlamaServerURL string `json:"llama_server_url" yaml:"llama_server_url" toml:"llama_server_url"`
	LlamaAPIKey    string `json:"llama_api_key" yaml:"llama_api_key" toml:"llama_api_key"`
	LlamaCtx       int    `json:"llama_ctx" yaml:"llama_ctx" toml:"llama_ctx"`
	LlamaThreads   int    `json:"llama_threads" yaml:"llama_threads" toml:"llama_threads"`

	// Admission
	MaxQueueDepth int      `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWait       Duration `json:"max_wait" yaml:"max_wait" toml:"max_wait"`
	DrainTimeout  Duration `json:"drain_timeout" yaml:"drain_timeout" toml:"drain_timeout"`
	AskTimeout    Duration `json:"ask_timeout" yaml:"ask_timeout" toml:"ask_timeout"`

	// HTTP / logging
	LogLevel     string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat    string   `json:"log_format" yaml:"log_format" toml:"log_format"`
	CORSOrigins  []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	MaxBodyBytes int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
}

// Defaults applied by WithDefaults.
const (
	DefaultAddr        = ":8080"
	DefaultPackName    = "model_assets"
	DefaultModelFile   = "gemma3-1b-it-int4.task"
	DefaultTemperature = float32(0.2)
	DefaultMaxTokens   = 256
	DefaultTopK        = 40
	DefaultEngine      = "llama"
)

// WithDefaults returns a copy of cfg with unset fields filled in.
func (c Config) WithDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.AssetsDir == "" {
		c.AssetsDir = "./assets"
	}
	if c.CacheDir == "" {
		if d, err := os.UserCacheDir(); err == nil {
			c.CacheDir = filepath.Join(d, "gemmad")
		} else {
			c.CacheDir = filepath.Join(os.TempDir(), "gemmad")
		}
	}
	if c.PacksDir == "" {
		c.PacksDir = filepath.Join(c.CacheDir, "packs")
	}
	if c.PackName == "" {
		c.PackName = DefaultPackName
	}
	if c.ModelFile == "" {
		c.ModelFile = DefaultModelFile
	}
	if len(c.PackFiles) == 0 {
		c.PackFiles = []string{c.ModelFile}
	}
	if c.Temperature == nil {
		t := DefaultTemperature
		c.Temperature = &t
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.Engine == "" {
		c.Engine = DefaultEngine
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return c
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Duration is a time.Duration that decodes from strings like "30s" in every
// supported config format.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// UnmarshalText covers TOML and YAML scalars.
func (d *Duration) UnmarshalText(b []byte) error { return d.parse(string(b)) }

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	return d.parse(s)
}
