package cli

import (
	"github.com/spf13/pflag"

	"gemmad/internal/config"
)

// applyEnv overlays GEMMAD_* environment variables on cfg.
func applyEnv(cfg *config.Config) {
	cfg.Addr = envStr("GEMMAD_ADDR", cfg.Addr)
	cfg.AssetsDir = envStr("GEMMAD_ASSETS_DIR", cfg.AssetsDir)
	cfg.CacheDir = envStr("GEMMAD_CACHE_DIR", cfg.CacheDir)
	cfg.PacksDir = envStr("GEMMAD_PACKS_DIR", cfg.PacksDir)
	cfg.PackBaseURL = envStr("GEMMAD_PACK_BASE_URL", cfg.PackBaseURL)
	cfg.Engine = envStr("GEMMAD_ENGINE", cfg.Engine)
	cfg.LlamaServerURL = envStr("GEMMAD_LLAMA_SERVER_URL", cfg.LlamaServerURL)
	cfg.LlamaAPIKey = envStr("GEMMAD_LLAMA_API_KEY", cfg.LlamaAPIKey)
	cfg.LogLevel = envStr("GEMMAD_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envStr("GEMMAD_LOG_FORMAT", cfg.LogFormat)
	cfg.WatchPacks = envBool("GEMMAD_WATCH_PACKS", cfg.WatchPacks)
	cfg.MaxQueueDepth = envInt("GEMMAD_MAX_QUEUE_DEPTH", cfg.MaxQueueDepth)
	if v := envStr("GEMMAD_CORS_ORIGINS", ""); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
}

// applyFlags overlays explicitly set flags on cfg.
func applyFlags(cfg *config.Config, fs *pflag.FlagSet) {
	str := func(name string, dst *string) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			*dst = f.Value.String()
		}
	}
	str("addr", &cfg.Addr)
	str("assets-dir", &cfg.AssetsDir)
	str("cache-dir", &cfg.CacheDir)
	str("packs-dir", &cfg.PacksDir)
	str("pack-base-url", &cfg.PackBaseURL)
	str("engine", &cfg.Engine)
	str("llama-server-url", &cfg.LlamaServerURL)
	str("log-level", &cfg.LogLevel)
	str("log-format", &cfg.LogFormat)
	if f := fs.Lookup("temperature"); f != nil && f.Changed {
		if v, err := fs.GetFloat32("temperature"); err == nil {
			cfg.Temperature = &v
		}
	}
	if f := fs.Lookup("watch-packs"); f != nil && f.Changed {
		if v, err := fs.GetBool("watch-packs"); err == nil {
			cfg.WatchPacks = v
		}
	}
	if f := fs.Lookup("cors-origins"); f != nil && f.Changed {
		cfg.CORSOrigins = splitCSV(f.Value.String())
	}
}

// loadConfig merges file, environment and flags, in that order, then fills
// defaults.
func loadConfig(path string, fs *pflag.FlagSet) (config.Config, error) {
	var cfg config.Config
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	applyFlags(&cfg, fs)
	return cfg.WithDefaults(), nil
}
