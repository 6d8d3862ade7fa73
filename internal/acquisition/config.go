package acquisition

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"gemmad/internal/assets"
	"gemmad/internal/delivery"
	"gemmad/internal/engine"
)

// Defaults applied when corresponding Config fields are unset.
const (
	DefaultPackName      = "model_assets"
	DefaultModelFile     = "gemma3-1b-it-int4.task"
	DefaultTemperature   = float32(0.2)
	DefaultTopK          = 40
	DefaultMaxTokens     = 256
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	defaultDrainTimeout  = 5 * time.Second
)

// Config encapsulates all tunables for Controller construction.
type Config struct {
	// Assets is the bundled asset namespace; nil means nothing is bundled.
	Assets *assets.Bundle
	// Delivery is the asset-pack delivery service; nil means the platform
	// has none, which is fatal when the model is not bundled.
	Delivery delivery.Service
	// Engine loads the model; defaults to the in-process llama engine.
	Engine engine.Engine

	// CacheDir receives the copy of the bundled model.
	CacheDir string
	// LoadBundledInPlace loads a directory-backed bundled model from its
	// bundle path instead of copying it into CacheDir first.
	LoadBundledInPlace bool
	PackName           string
	ModelFile          string

	// Temperature is the initial sampling temperature; nil selects
	// DefaultTemperature. Zero is a valid setting.
	Temperature *float32
	TopK        int
	MaxTokens   int
	ContextSize int
	Threads     int

	MaxQueueDepth int
	MaxWait       time.Duration
	DrainTimeout  time.Duration

	Logger    *zerolog.Logger
	Publisher EventPublisher
}

func (cfg Config) withDefaults() Config {
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(os.TempDir(), "gemmad")
	}
	if cfg.PackName == "" {
		cfg.PackName = DefaultPackName
	}
	if cfg.ModelFile == "" {
		cfg.ModelFile = DefaultModelFile
	}
	if cfg.Temperature == nil {
		t := DefaultTemperature
		cfg.Temperature = &t
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = defaultMaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if cfg.Engine == nil {
		cfg.Engine = engine.NewLlama(cfg.ContextSize, cfg.Threads)
	}
	return cfg
}
