package acquisition

import (
	"time"

	"gemmad/pkg/types"
)

// Snapshot returns a read-only view of the controller state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Snapshot{State: c.state, AttemptID: c.attempt, Progress: c.progress, Err: c.err}
	if c.source != nil {
		src := *c.source
		s.Source = &src
	}
	return s
}

// Status builds a detailed status response for /status.
func (c *Controller) Status() types.StatusResponse {
	snap := c.Snapshot()
	c.mu.RLock()
	attempts := c.attempts
	c.mu.RUnlock()
	resp := types.StatusResponse{
		State:           string(snap.State),
		AttemptID:       snap.AttemptID,
		ProgressPercent: snap.Progress,
		Error:           snap.Err,
		Temperature:     c.Temperature(),
		TopK:            c.cfg.TopK,
		MaxTokens:       c.cfg.MaxTokens,
		QueueLen:        c.QueueLen(),
		Inflight:        c.Inflight(),
		MaxQueueDepth:   cap(c.queueCh),
		AttemptsTotal:   attempts,
		AsksTotal:       c.asks.Load(),
		UptimeSeconds:   int64(time.Since(c.started).Seconds()),
		ServerTimeUnix:  time.Now().Unix(),
	}
	if snap.Source != nil {
		resp.Source = &types.ModelSource{Kind: string(snap.Source.Kind), Path: snap.Source.Path}
	}
	return resp
}
