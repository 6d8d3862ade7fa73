package acquisition

import (
	"context"
	"io"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"gemmad/internal/common/fsutil"
	"gemmad/internal/delivery"
	"gemmad/internal/engine"
)

// Init starts acquisition, or joins the attempt already running, and reports
// the outcome through cb from another goroutine. See Start.
func (c *Controller) Init(ctx context.Context, cb Callbacks) {
	c.Start(ctx, cb)
}

// Start is Init that also returns the attempt the call started or joined and
// the state right after the call. On a ready controller it reports OnReady;
// after a failure it starts a new attempt with a new id.
//
// The context of the caller that starts an attempt bounds that attempt.
// Callers that join only stop waiting when their own context ends.
func (c *Controller) Start(ctx context.Context, cb Callbacks) (string, State) {
	if ctx == nil {
		ctx = context.Background()
	}
	unsubscribe := c.subscribeProgress(cb.OnProgress)

	// claim and flight registration are atomic so a joiner can never run
	// before the attempt it joins is registered.
	c.startMu.Lock()
	attempt, state, fresh, err := c.claim()
	var ch <-chan singleflight.Result
	switch {
	case err != nil, state == StateReady:
	case fresh:
		ch = c.flight.DoChan(attempt, func() (any, error) {
			return nil, c.run(ctx, attempt)
		})
	default:
		ch = c.flight.DoChan(attempt, func() (any, error) {
			return nil, c.outcome(attempt)
		})
	}
	c.startMu.Unlock()

	go func() {
		defer unsubscribe()
		if err != nil {
			cb.error(err)
			return
		}
		if ch == nil {
			cb.ready()
			return
		}
		select {
		case res := <-ch:
			if res.Err != nil {
				cb.error(res.Err)
				return
			}
			cb.ready()
		case <-ctx.Done():
			cb.error(ctx.Err())
		}
	}()
	return attempt, state
}

// InitSync runs Init and waits for its outcome.
func (c *Controller) InitSync(ctx context.Context, onProgress func(int)) error {
	done := make(chan error, 1)
	c.Init(ctx, Callbacks{
		OnReady:    func() { done <- nil },
		OnError:    func(err error) { done <- err },
		OnProgress: onProgress,
	})
	return <-done
}

func (c *Controller) run(ctx context.Context, attempt string) error {
	log := c.log.With().Str("attempt", attempt).Logger()
	log.Info().Msg("acquisition_start")

	src, err := c.resolve(ctx, attempt, log)
	if err == nil {
		err = c.load(attempt, src, log)
	}
	if err != nil {
		c.fail(attempt, err)
		attemptsTotal.WithLabelValues(Kind(err), "").Inc()
		log.Error().Err(err).Str("kind", Kind(err)).Msg("acquisition_failed")
		return err
	}
	attemptsTotal.WithLabelValues("ready", string(src.Kind)).Inc()
	log.Info().Str("source", string(src.Kind)).Str("path", src.Path).Msg("acquisition_ready")
	return nil
}

// claim opens a new attempt when none is running and the controller is not
// ready. Otherwise it reports the current attempt with fresh == false.
func (c *Controller) claim() (attempt string, state State, fresh bool, err error) {
	c.mu.Lock()
	if c.closed {
		attempt, state = c.attempt, c.state
		c.mu.Unlock()
		return attempt, state, false, ErrClosed
	}
	if c.state != StateNotStarted && c.state != StateFailed {
		attempt, state = c.attempt, c.state
		c.mu.Unlock()
		return attempt, state, false, nil
	}
	id := uuid.NewString()
	c.attempt = id
	c.state = StateCheckingBundled
	c.progress = 0
	c.reported = false
	c.err = ""
	c.lastErr = nil
	c.attempts++
	c.mu.Unlock()
	downloadPercent.Set(0)
	c.publish(Event{Name: EventState, AttemptID: id, State: StateCheckingBundled})
	return id, StateCheckingBundled, true, nil
}

// outcome reports how a finished attempt ended. Joiners whose flight
// started after the attempt's own flight returned land here.
func (c *Controller) outcome(attempt string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.closed:
		return ErrClosed
	case c.attempt != attempt:
		return staleAttemptError{attempt: attempt}
	case c.state == StateReady:
		return nil
	case c.state == StateFailed && c.lastErr != nil:
		return c.lastErr
	}
	return staleAttemptError{attempt: attempt}
}

// transition moves the attempt forward. Stale attempts, terminal states and
// backwards moves are rejected.
func (c *Controller) transition(attempt string, to State) bool {
	c.mu.Lock()
	if attempt != c.attempt || c.state.Terminal() || to.rank() < c.state.rank() {
		c.mu.Unlock()
		return false
	}
	c.state = to
	c.mu.Unlock()
	c.publish(Event{Name: EventState, AttemptID: attempt, State: to})
	return true
}

func (c *Controller) setProgress(attempt string, pct int) {
	c.mu.Lock()
	if attempt != c.attempt || c.state != StateDownloading || (c.reported && c.progress == pct) {
		c.mu.Unlock()
		return
	}
	c.progress = pct
	c.reported = true
	c.mu.Unlock()
	downloadPercent.Set(float64(pct))
	c.publish(Event{Name: EventProgress, AttemptID: attempt, State: StateDownloading, Fields: map[string]any{"percent": pct}})
	c.notifyProgress(pct)
}

func (c *Controller) fail(attempt string, err error) {
	c.mu.Lock()
	if attempt != c.attempt || c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	c.state = StateFailed
	c.err = err.Error()
	c.lastErr = err
	c.mu.Unlock()
	c.publish(Event{Name: EventError, AttemptID: attempt, State: StateFailed, Fields: map[string]any{"error": err.Error(), "kind": Kind(err)}})
}

func (c *Controller) resolve(ctx context.Context, attempt string, log zerolog.Logger) (ModelSource, error) {
	if src, ok := c.fromBundle(attempt, log); ok {
		return src, nil
	}
	if !c.transition(attempt, StateCheckingDelivered) {
		return ModelSource{}, staleAttemptError{attempt: attempt}
	}
	svc := c.cfg.Delivery
	if svc == nil {
		return ModelSource{}, serviceUnavailableError{msg: "no delivery service configured"}
	}
	if loc, ok := svc.PackLocation(c.cfg.PackName); ok {
		log.Info().Str("pack", c.cfg.PackName).Str("assets_path", loc.AssetsPath).Msg("pack_installed")
		return c.packSource(loc), nil
	}
	return c.download(ctx, attempt, svc, log)
}

// fromBundle looks for the model in the bundled assets and, unless loading
// in place, copies it to the cache dir. Every failure falls through.
func (c *Controller) fromBundle(attempt string, log zerolog.Logger) (ModelSource, bool) {
	rc, err := c.cfg.Assets.Open(c.cfg.ModelFile)
	if err != nil {
		log.Debug().Err(err).Str("file", c.cfg.ModelFile).Msg("bundled_absent")
		return ModelSource{}, false
	}
	defer rc.Close()

	if root := c.cfg.Assets.Root(); c.cfg.LoadBundledInPlace && root != "" {
		return ModelSource{Kind: SourceBundled, Path: filepath.Join(root, c.cfg.ModelFile)}, true
	}

	dst := filepath.Join(c.cfg.CacheDir, c.cfg.ModelFile)
	copied, err := fsutil.CopyIfMissing(dst, func() (io.ReadCloser, error) {
		return io.NopCloser(rc), nil
	})
	if err != nil {
		log.Warn().Err(err).Str("dst", dst).Msg("bundled_copy_failed")
		c.publish(Event{Name: EventCopy, AttemptID: attempt, State: StateCheckingBundled, Fields: map[string]any{"path": dst, "error": err.Error()}})
		return ModelSource{}, false
	}
	log.Info().Bool("copied", copied).Str("dst", dst).Msg("bundled_found")
	c.publish(Event{Name: EventCopy, AttemptID: attempt, State: StateCheckingBundled, Fields: map[string]any{"path": dst, "copied": copied}})
	return ModelSource{Kind: SourceCacheCopy, Path: dst}, true
}

func (c *Controller) packSource(loc delivery.Location) ModelSource {
	return ModelSource{Kind: SourceDeliveredPack, Path: filepath.Join(loc.AssetsPath, c.cfg.ModelFile)}
}

type fetchOutcome struct {
	completed bool
	code      delivery.ErrorCode
}

// download registers a listener, then requests the pack and waits for a
// terminal status. Registering first means a completion reported from
// inside Fetch is still observed.
func (c *Controller) download(ctx context.Context, attempt string, svc delivery.Service, log zerolog.Logger) (ModelSource, error) {
	pack := c.cfg.PackName
	if !c.transition(attempt, StateDownloading) {
		return ModelSource{}, staleAttemptError{attempt: attempt}
	}

	done := make(chan fetchOutcome, 1)
	var once sync.Once
	finish := func(o fetchOutcome) { once.Do(func() { done <- o }) }

	unregister := svc.RegisterListener(func(st delivery.PackState) {
		if st.Name != pack {
			return
		}
		switch st.Status {
		case delivery.StatusDownloading:
			c.setProgress(attempt, st.Percent())
		case delivery.StatusCompleted:
			c.setProgress(attempt, 100)
			finish(fetchOutcome{completed: true})
		case delivery.StatusFailed:
			finish(fetchOutcome{code: st.ErrorCode})
		}
	})
	defer unregister()

	log.Info().Str("pack", pack).Msg("pack_fetch")
	if err := svc.Fetch([]string{pack}); err != nil {
		return ModelSource{}, serviceUnavailableError{msg: err.Error()}
	}

	select {
	case o := <-done:
		if !o.completed {
			return ModelSource{}, DownloadFailedError{Pack: pack, Code: o.code}
		}
	case <-ctx.Done():
		return ModelSource{}, ctx.Err()
	}

	loc, ok := svc.PackLocation(pack)
	if !ok {
		return ModelSource{}, locationUnresolvedError{pack: pack}
	}
	return c.packSource(loc), nil
}

func (c *Controller) load(attempt string, src ModelSource, log zerolog.Logger) error {
	if !c.transition(attempt, StateLoading) {
		return staleAttemptError{attempt: attempt}
	}
	log.Info().Str("path", src.Path).Int("max_tokens", c.cfg.MaxTokens).Msg("engine_load")
	h, err := c.cfg.Engine.Load(src.Path, engine.Options{
		MaxTokens:   c.cfg.MaxTokens,
		ContextSize: c.cfg.ContextSize,
		Threads:     c.cfg.Threads,
	})
	if err != nil {
		return engineLoadError{path: src.Path, err: err}
	}
	if err := c.install(attempt, src, h); err != nil {
		_ = h.Close()
		return err
	}
	return nil
}

// install publishes the handle and the ready state together.
func (c *Controller) install(attempt string, src ModelSource, h engine.Handle) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if attempt != c.attempt || c.state != StateLoading || !c.latched.CompareAndSwap(false, true) {
		c.mu.Unlock()
		return staleAttemptError{attempt: attempt}
	}
	c.handle.Store(&handleRef{h: h})
	c.state = StateReady
	c.source = &src
	c.mu.Unlock()
	readyGauge.Set(1)
	c.publish(Event{Name: EventReady, AttemptID: attempt, State: StateReady, Fields: map[string]any{"source": string(src.Kind), "path": src.Path}})
	return nil
}
