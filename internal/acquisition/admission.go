package acquisition

import (
	"context"
	"time"
)

// beginGeneration reserves a queue slot and then the single in-flight slot.
// Returns a release func to be deferred.
func (c *Controller) beginGeneration(ctx context.Context) (func(), error) {
	// Fast path: respect an already-canceled context
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}

	timer := time.NewTimer(c.cfg.MaxWait)
	defer timer.Stop()
	select {
	case c.queueCh <- struct{}{}:
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		return func() {}, ErrTooBusy
	}

	acquired := false
	defer func() {
		if !acquired {
			<-c.queueCh
		}
	}()
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	timer2 := time.NewTimer(c.cfg.MaxWait)
	defer timer2.Stop()
	select {
	case c.genCh <- struct{}{}:
		acquired = true
		return func() { <-c.genCh; <-c.queueCh }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer2.C:
		return func() {}, ErrTooBusy
	}
}

// QueueLen returns the number of admitted asks, including the one generating.
func (c *Controller) QueueLen() int { return len(c.queueCh) }

// Inflight returns the number of asks currently generating.
func (c *Controller) Inflight() int { return len(c.genCh) }
