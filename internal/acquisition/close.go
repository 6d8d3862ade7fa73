package acquisition

import (
	"fmt"
	"time"
)

// Close stops accepting asks and Init calls, waits up to the drain timeout
// for admitted asks, then releases the engine handle. Repeated calls return
// nil. A controller cannot be reused after Close.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	attempt := c.attempt
	c.mu.Unlock()
	c.publish(Event{Name: EventClosed, AttemptID: attempt, State: c.State(), Fields: map[string]any{"phase": "drain"}})

	drained := make(chan struct{})
	go func() {
		c.pending.Wait()
		close(drained)
	}()
	timer := time.NewTimer(c.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		c.log.Warn().Int("queue", c.QueueLen()).Int("inflight", c.Inflight()).Msg("drain_timeout")
		c.publish(Event{Name: EventClosed, AttemptID: attempt, Fields: map[string]any{"phase": "drain_timeout", "queue": c.QueueLen(), "inflight": c.Inflight()}})
	}

	ref := c.handle.Swap(nil)
	readyGauge.Set(0)
	if ref == nil {
		return nil
	}
	if err := ref.h.Close(); err != nil {
		return fmt.Errorf("release engine handle: %w", err)
	}
	c.log.Info().Msg("engine_released")
	return nil
}
