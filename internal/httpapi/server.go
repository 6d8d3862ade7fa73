package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gemmad/internal/acquisition"
	"gemmad/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Start(ctx context.Context, cb acquisition.Callbacks) (string, acquisition.State)
	Snapshot() acquisition.Snapshot
	Status() types.StatusResponse
	AskSync(ctx context.Context, prompt string) (string, error)
	Temperature() float32
	SetTemperature(t float32)
	Ready() bool
	SanityCheck(ctx context.Context) acquisition.SanityReport
}

// EventSource feeds GET /events. A nil source disables the route.
type EventSource interface {
	Subscribe() (<-chan acquisition.Event, func())
}

func NewMux(svc Service, events EventSource) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/init", func(w http.ResponseWriter, r *http.Request) {
		handleInit(svc, w, r)
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Post("/ask", func(w http.ResponseWriter, r *http.Request) {
		handleAsk(svc, w, r)
	})

	r.Put("/temperature", func(w http.ResponseWriter, r *http.Request) {
		if !requireJSON(w, r) {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.TemperatureRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Temperature == nil {
			writeJSONError(w, http.StatusBadRequest, "temperature is required")
			return
		}
		svc.SetTemperature(*req.Temperature)
		writeJSON(w, http.StatusOK, types.TemperatureRequest{Temperature: req.Temperature})
	})

	if events != nil {
		r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
			streamEvents(events, w, r)
		})
	}

	r.Get("/sanity", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.SanityCheck(r.Context()))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(svc.Snapshot().State))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

func requireJSON(w http.ResponseWriter, r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	return true
}

// handleInit starts acquisition under the server context. With ?wait=1 it
// blocks until the attempt finishes; otherwise it answers 202 immediately.
func handleInit(svc Service, w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	lvl := requestLogLevel(r)
	wait := r.URL.Query().Get("wait")
	if wait != "1" && wait != "true" {
		attempt, state := svc.Start(serverBaseCtx, acquisition.Callbacks{})
		writeJSON(w, http.StatusAccepted, types.InitResponse{AttemptID: attempt, State: string(state)})
		logEnd(r, lvl, "init", http.StatusAccepted, start, nil)
		return
	}

	done := make(chan error, 1)
	attempt, _ := svc.Start(serverBaseCtx, acquisition.Callbacks{
		OnReady: func() { done <- nil },
		OnError: func(err error) { done <- err },
	})
	select {
	case err := <-done:
		if err != nil {
			status := statusFor(err)
			recordError("init", err)
			writeJSONError(w, status, err.Error())
			logEnd(r, lvl, "init", status, start, err)
			return
		}
	case <-r.Context().Done():
		return
	}
	writeJSON(w, http.StatusOK, types.InitResponse{AttemptID: attempt, State: string(acquisition.StateReady)})
	logEnd(r, lvl, "init", http.StatusOK, start, nil)
}

func handleAsk(svc Service, w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req types.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Oversized bodies also land here; report 400 without size details.
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	start := time.Now()
	lvl := requestLogLevel(r)
	if lvl >= LevelDebug {
		zlog.Debug().Str("request_id", middleware.GetReqID(r.Context())).Int("prompt_len", len(req.Prompt)).Msg("ask_start")
	}
	// Shutdown cancels work too, not only client disconnects.
	ctx, cancel := joinContexts(r.Context(), serverBaseCtx)
	defer cancel()
	if askTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, askTimeout)
		defer tcancel()
	}

	temp := svc.Temperature()
	text, err := svc.AskSync(ctx, req.Prompt)
	if err != nil {
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		status := statusFor(err)
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		if status == http.StatusTooManyRequests {
			IncrementBackpressure("ask_queue")
		}
		recordError("ask", err)
		writeJSONError(w, status, err.Error())
		logEnd(r, lvl, "ask", status, start, err)
		return
	}
	writeJSON(w, http.StatusOK, types.AskResponse{
		Text:        text,
		Temperature: temp,
		DurationMS:  time.Since(start).Milliseconds(),
	})
	logEnd(r, lvl, "ask", http.StatusOK, start, nil)
}

// streamEvents writes one JSON object per line until the client goes away
// or the server shuts down.
func streamEvents(src EventSource, w http.ResponseWriter, r *http.Request) {
	ch, cancel := src.Subscribe()
	defer cancel()
	eventStreams.Inc()
	defer eventStreams.Dec()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case <-serverBaseCtx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := enc.Encode(toWireEvent(e)); err != nil {
				return
			}
			_ = rc.Flush()
		}
	}
}

func toWireEvent(e acquisition.Event) types.Event {
	out := types.Event{
		Name:       e.Name,
		AttemptID:  e.AttemptID,
		State:      string(e.State),
		TimeUnixMS: e.Time.UnixMilli(),
	}
	if pct, ok := e.Fields["percent"].(int); ok {
		out.Percent = pct
	}
	if msg, ok := e.Fields["error"].(string); ok {
		out.Message = msg
	}
	return out
}
