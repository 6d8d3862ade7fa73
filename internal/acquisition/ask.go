package acquisition

import (
	"context"
	"fmt"
	"time"

	"gemmad/internal/engine"
)

// Ask generates a completion for prompt and reports it through onResult or
// onError from another goroutine. When the controller is not ready, onError
// receives ErrNotInitialized before Ask returns and nothing is started.
func (c *Controller) Ask(ctx context.Context, prompt string, onResult func(string), onError func(error)) {
	if onResult == nil {
		onResult = func(string) {}
	}
	if onError == nil {
		onError = func(error) {}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.RLock()
	closed := c.closed
	h, ok := c.readyHandleLocked()
	if ok {
		c.pending.Add(1)
	}
	c.mu.RUnlock()
	if !ok {
		asksTotal.WithLabelValues("not_initialized").Inc()
		if closed {
			onError(ErrClosed)
		} else {
			onError(ErrNotInitialized)
		}
		return
	}
	temp := c.Temperature()
	go func() {
		defer c.pending.Done()
		text, err := c.generate(ctx, h, prompt, temp)
		c.asks.Add(1)
		if err != nil {
			asksTotal.WithLabelValues(Kind(err)).Inc()
			c.log.Warn().Err(err).Str("kind", Kind(err)).Msg("ask_failed")
			onError(err)
			return
		}
		asksTotal.WithLabelValues("ok").Inc()
		onResult(text)
	}()
}

// AskSync runs Ask and waits for its outcome.
func (c *Controller) AskSync(ctx context.Context, prompt string) (string, error) {
	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	c.Ask(ctx, prompt,
		func(text string) { done <- result{text: text} },
		func(err error) { done <- result{err: err} },
	)
	r := <-done
	return r.text, r.err
}

// generate runs one session against h. The session is closed exactly once
// whatever the outcome, and engine panics are reported as errors.
func (c *Controller) generate(ctx context.Context, h engine.Handle, prompt string, temp float32) (text string, err error) {
	release, err := c.beginGeneration(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("ask_panic")
			text, err = "", generationError{err: fmt.Errorf("panic: %v", r)}
		}
	}()

	start := time.Now()
	sess, err := h.NewSession(engine.SessionOptions{Temperature: temp, TopK: c.cfg.TopK})
	if err != nil {
		return "", generationError{err: err}
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			c.log.Debug().Err(cerr).Msg("session_close")
		}
	}()

	if err := sess.AddQueryChunk(prompt); err != nil {
		return "", generationError{err: err}
	}
	out, err := sess.Generate(ctx)
	if err != nil {
		return "", generationError{err: err}
	}
	askDuration.Observe(time.Since(start).Seconds())
	c.log.Debug().Int("prompt_len", len(prompt)).Int("text_len", len(out)).Dur("took", time.Since(start)).Msg("ask_done")
	return out, nil
}
