package acquisition

import (
	"context"
	"time"

	"gemmad/internal/common/fsutil"
	"gemmad/internal/engine"
	"gemmad/pkg/types"
)

// SanityReport describes runtime checks for external dependencies.
type SanityReport struct {
	EngineAvailable bool   `json:"engine_available"`
	EngineError     string `json:"engine_error,omitempty"`
	BundledFound    bool   `json:"bundled_found"`
	// BundledModels lists every model weights file in the bundle.
	BundledModels      []types.Asset `json:"bundled_models,omitempty"`
	BundledError       string        `json:"bundled_error,omitempty"`
	CacheDir           string        `json:"cache_dir"`
	CacheWritable      bool          `json:"cache_writable"`
	CacheError         string        `json:"cache_error,omitempty"`
	DeliveryConfigured bool          `json:"delivery_configured"`
	PackInstalled      bool          `json:"pack_installed"`
}

// OK reports whether the model can be acquired and loaded.
func (r SanityReport) OK() bool {
	return r.EngineAvailable && (r.BundledFound || r.PackInstalled || r.DeliveryConfigured)
}

// SanityCheck validates that the engine backend and a model source are
// available. It does not mutate state and is safe to call at any time.
func (c *Controller) SanityCheck(ctx context.Context) SanityReport {
	r := SanityReport{CacheDir: c.cfg.CacheDir}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := engine.Probe(pctx, c.cfg.Engine); err != nil {
		r.EngineError = err.Error()
	} else {
		r.EngineAvailable = true
	}
	r.BundledFound = c.cfg.Assets.Exists(c.cfg.ModelFile)
	if models, err := c.cfg.Assets.List(); err != nil {
		r.BundledError = err.Error()
	} else {
		r.BundledModels = models
	}
	if err := fsutil.DirWritable(c.cfg.CacheDir); err != nil {
		r.CacheError = err.Error()
	} else {
		r.CacheWritable = true
	}
	if c.cfg.Delivery != nil {
		r.DeliveryConfigured = true
		_, r.PackInstalled = c.cfg.Delivery.PackLocation(c.cfg.PackName)
	}
	return r
}
