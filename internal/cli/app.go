package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"gemmad/internal/acquisition"
	"gemmad/internal/assets"
	"gemmad/internal/config"
	"gemmad/internal/delivery"
	"gemmad/internal/engine"
	"gemmad/internal/httpapi"
)

// app is the assembled daemon: controller, delivery service and HTTP handler.
type app struct {
	cfg        config.Config
	log        zerolog.Logger
	controller *acquisition.Controller
	events     *acquisition.Broadcaster
	delivery   *delivery.HTTPService
	handler    http.Handler
}

// newEngine picks the engine backend named by cfg.Engine.
func newEngine(cfg config.Config, log *zerolog.Logger) (engine.Engine, error) {
	switch cfg.Engine {
	case "", "llama":
		return engine.NewLlama(cfg.LlamaCtx, cfg.LlamaThreads), nil
	case "server":
		return engine.NewServer(engine.ServerConfig{
			BaseURL:        cfg.LlamaServerURL,
			APIKey:         cfg.LlamaAPIKey,
			RequestTimeout: cfg.AskTimeout.Std(),
			Logger:         log,
		}), nil
	default:
		return nil, fmt.Errorf("unknown engine %q (want llama|server)", cfg.Engine)
	}
}

func newApp(cfg config.Config, log zerolog.Logger) (*app, error) {
	eng, err := newEngine(cfg, &log)
	if err != nil {
		return nil, err
	}
	bundle, err := assets.NewBundle(cfg.AssetsDir)
	if err != nil {
		return nil, fmt.Errorf("assets: %w", err)
	}

	a := &app{cfg: cfg, log: log, events: acquisition.NewBroadcaster(64)}

	acfg := acquisition.Config{
		Assets:             bundle,
		Engine:             eng,
		CacheDir:           cfg.CacheDir,
		LoadBundledInPlace: cfg.LoadBundledInPlace,
		PackName:           cfg.PackName,
		ModelFile:          cfg.ModelFile,
		Temperature:        cfg.Temperature,
		TopK:               cfg.TopK,
		MaxTokens:          cfg.MaxTokens,
		ContextSize:        cfg.LlamaCtx,
		Threads:            cfg.LlamaThreads,
		MaxQueueDepth:      cfg.MaxQueueDepth,
		MaxWait:            cfg.MaxWait.Std(),
		DrainTimeout:       cfg.DrainTimeout.Std(),
		Logger:             &log,
		Publisher:          acquisition.MultiPublisher(a.events, acquisition.NewLogPublisher(log)),
	}

	svc, err := delivery.NewHTTPService(delivery.HTTPConfig{
		BaseURL: cfg.PackBaseURL,
		Dir:     cfg.PacksDir,
		Packs:   map[string][]string{cfg.PackName: cfg.PackFiles},
		Logger:  &log,
	})
	switch {
	case errors.Is(err, delivery.ErrNotConfigured):
		log.Info().Msg("delivery_disabled")
	case err != nil:
		return nil, fmt.Errorf("delivery: %w", err)
	default:
		a.delivery = svc
		// Assigned only when non-nil so the interface stays nil otherwise.
		acfg.Delivery = svc
	}

	a.controller = acquisition.New(acfg)
	a.handler = httpapi.NewMux(a.controller, a.events)
	return a, nil
}

// configureHTTP applies process-wide HTTP settings.
func (a *app) configureHTTP(base context.Context) {
	httpapi.SetLogger(a.log)
	httpapi.SetBaseContext(base)
	httpapi.SetMaxBodyBytes(a.cfg.MaxBodyBytes)
	httpapi.SetAskTimeout(a.cfg.AskTimeout.Std())
	httpapi.SetCORSOptions(len(a.cfg.CORSOrigins) > 0, a.cfg.CORSOrigins, nil, nil)
}

// close tears the app down: controller first so in-flight asks drain, then
// delivery downloads.
func (a *app) close() error {
	err := a.controller.Close()
	if a.delivery != nil {
		err = errors.Join(err, a.delivery.Close())
	}
	return err
}

// closeLogged closes the app for callers that have no error path left.
func (a *app) closeLogged() {
	if err := a.close(); err != nil {
		a.log.Warn().Err(err).Msg("close_failed")
	}
}

// serve runs the HTTP server until ctx is done, then shuts down gracefully.
func serve(ctx context.Context, a *app) error {
	a.configureHTTP(ctx)
	if a.delivery != nil && a.cfg.WatchPacks {
		if err := a.delivery.Watch(ctx); err != nil {
			a.log.Warn().Err(err).Msg("pack_watch_failed")
		}
	}

	// Acquisition starts eagerly; /init joins the running attempt.
	a.controller.Init(ctx, acquisition.Callbacks{
		OnReady: func() { a.log.Info().Msg("model_ready") },
		OnError: func(err error) { a.log.Error().Err(err).Str("kind", acquisition.Kind(err)).Msg("model_failed") },
	})

	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.cfg.Addr).Str("engine", a.cfg.Engine).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			a.closeLogged()
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("graceful_shutdown_error")
	}
	return a.close()
}

// ask acquires the model, runs one prompt and writes the completion.
func ask(ctx context.Context, a *app, prompt string, out, progress io.Writer) error {
	defer a.closeLogged()
	err := a.controller.InitSync(ctx, func(p int) {
		fmt.Fprintf(progress, "downloading model: %d%%\n", p)
	})
	if err != nil {
		return fmt.Errorf("acquire model (%s): %w", acquisition.Kind(err), err)
	}
	text, err := a.controller.AskSync(ctx, prompt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, text)
	return err
}
