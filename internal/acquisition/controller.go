package acquisition

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"gemmad/internal/engine"
)

// Controller drives acquisition to ready once and then serves asks.
type Controller struct {
	cfg       Config
	log       zerolog.Logger
	publisher EventPublisher

	mu       sync.RWMutex
	state    State
	attempt  string
	progress int
	reported bool // progress already sent for this attempt
	source   *ModelSource
	err      string
	lastErr  error
	attempts uint64
	closed   bool

	// handle is published together with state=ready; latched guards the
	// single successful install per controller lifetime.
	handle  atomic.Pointer[handleRef]
	latched atomic.Bool

	temperature atomic.Uint32
	asks        atomic.Uint64

	// flight is keyed by attempt id; startMu orders claims with flight
	// registration.
	flight  singleflight.Group
	startMu sync.Mutex

	subsMu  sync.Mutex
	subs    map[int]func(int)
	nextSub int

	queueCh chan struct{}
	genCh   chan struct{}
	pending sync.WaitGroup

	started time.Time
}

type handleRef struct{ h engine.Handle }

// New constructs a Controller from cfg, applying defaults.
func New(cfg Config) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg:       cfg,
		publisher: noopPublisher{},
		state:     StateNotStarted,
		subs:      make(map[int]func(int)),
		queueCh:   make(chan struct{}, cfg.MaxQueueDepth),
		genCh:     make(chan struct{}, 1),
		started:   time.Now(),
	}
	if cfg.Logger != nil {
		c.log = cfg.Logger.With().Str("component", "acquisition").Logger()
	} else {
		c.log = zerolog.Nop()
	}
	if cfg.Publisher != nil {
		c.publisher = cfg.Publisher
	}
	c.temperature.Store(math.Float32bits(*cfg.Temperature))
	return c
}

func (c *Controller) publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	c.publisher.Publish(e)
}

// State returns the current acquisition state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Ready reports whether asks are being accepted.
func (c *Controller) Ready() bool {
	_, ok := c.readyHandle()
	return ok
}

// readyHandle returns the engine handle when the controller is ready and
// not closed.
func (c *Controller) readyHandle() (engine.Handle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readyHandleLocked()
}

func (c *Controller) readyHandleLocked() (engine.Handle, bool) {
	if c.closed || c.state != StateReady {
		return nil, false
	}
	ref := c.handle.Load()
	if ref == nil {
		return nil, false
	}
	return ref.h, true
}

// Temperature returns the temperature new asks will use.
func (c *Controller) Temperature() float32 {
	return math.Float32frombits(c.temperature.Load())
}

// SetTemperature changes the temperature for later asks. In-flight sessions
// keep the value they started with. The value is not range checked.
func (c *Controller) SetTemperature(t float32) {
	c.temperature.Store(math.Float32bits(t))
	c.log.Debug().Float32("temperature", t).Msg("temperature_set")
}

// Source returns where the model was loaded from, or nil before ready.
func (c *Controller) Source() *ModelSource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.source == nil {
		return nil
	}
	s := *c.source
	return &s
}

func (c *Controller) subscribeProgress(fn func(int)) func() {
	if fn == nil {
		return func() {}
	}
	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subsMu.Unlock()
	return func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

func (c *Controller) notifyProgress(pct int) {
	c.subsMu.Lock()
	fns := make([]func(int), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subsMu.Unlock()
	for _, fn := range fns {
		fn(pct)
	}
}
