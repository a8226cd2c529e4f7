package logger

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// SamplingConfig configures log sampling. Bulk operations such as draft purges
// and request sweeps log once per pair; sampling keeps them from flooding.
type SamplingConfig struct {
	Enabled bool

	// Tick is the window after which counters reset.
	Tick time.Duration

	// Threshold records with the same level and message pass unsampled per tick.
	Threshold int

	// Every Nth record past the threshold is kept.
	Every int

	// NeverSample lists message prefixes that always pass.
	NeverSample []string
}

const (
	defaultSamplingTick      = time.Second
	defaultSamplingThreshold = 100
	defaultSamplingEvery     = 10
	maxSamplingKeys          = 10000
)

type samplingState struct {
	mu      sync.Mutex
	start   time.Time
	counts  map[string]int
	dropped uint64
}

type samplingHandler struct {
	next  slog.Handler
	cfg   SamplingConfig
	state *samplingState
	now   func() time.Time
}

// NewSamplingHandler wraps h. Warnings and errors are never sampled.
func NewSamplingHandler(h slog.Handler, cfg SamplingConfig) slog.Handler {
	if !cfg.Enabled {
		return h
	}
	if cfg.Tick <= 0 {
		cfg.Tick = defaultSamplingTick
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultSamplingThreshold
	}
	if cfg.Every <= 0 {
		cfg.Every = defaultSamplingEvery
	}
	return &samplingHandler{
		next:  h,
		cfg:   cfg,
		state: &samplingState{counts: make(map[string]int)},
		now:   time.Now,
	}
}

func (h *samplingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *samplingHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn || h.exempt(r.Message) || h.admit(r.Level.String()+"|"+r.Message) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *samplingHandler) exempt(msg string) bool {
	for _, prefix := range h.cfg.NeverSample {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

func (h *samplingHandler) admit(key string) bool {
	s := h.state
	s.mu.Lock()
	defer s.mu.Unlock()

	now := h.now()
	if now.Sub(s.start) >= h.cfg.Tick || len(s.counts) >= maxSamplingKeys {
		s.start = now
		clear(s.counts)
	}
	s.counts[key]++
	n := s.counts[key]
	if n <= h.cfg.Threshold || (n-h.cfg.Threshold)%h.cfg.Every == 0 {
		return true
	}
	s.dropped++
	return false
}

func (h *samplingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &samplingHandler{next: h.next.WithAttrs(attrs), cfg: h.cfg, state: h.state, now: h.now}
}

func (h *samplingHandler) WithGroup(name string) slog.Handler {
	return &samplingHandler{next: h.next.WithGroup(name), cfg: h.cfg, state: h.state, now: h.now}
}

// Dropped returns how many records the handler discarded.
func (h *samplingHandler) Dropped() uint64 {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	return h.state.dropped
}
