package stats

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/gokatarajesh/geotap/internal/daykey"
	"github.com/gokatarajesh/geotap/internal/store"
)

// Directory hands out one Aggregator per device so that every writer for a
// device shares the same lock.
type Directory struct {
	base   store.Store
	clock  *daykey.Clock
	logger zerolog.Logger
	opts   Options

	mu       sync.Mutex
	byDevice map[string]*Aggregator
	checked  map[string]bool
}

// NewDirectory builds a directory over the shared base store.
func NewDirectory(base store.Store, clock *daykey.Clock, logger zerolog.Logger, opts Options) *Directory {
	return &Directory{
		base:     base,
		clock:    clock,
		logger:   logger,
		opts:     opts,
		byDevice: make(map[string]*Aggregator),
		checked:  make(map[string]bool),
	}
}

// For returns the aggregator of deviceID, namespaced under "device:<id>".
func (d *Directory) For(deviceID string) *Aggregator {
	d.mu.Lock()
	defer d.mu.Unlock()

	if a, ok := d.byDevice[deviceID]; ok {
		return a
	}
	a := NewAggregator(
		store.WithPrefix(d.base, "device:"+deviceID),
		d.clock,
		d.logger.With().Str("device", deviceID).Logger(),
		d.opts,
	)
	d.byDevice[deviceID] = a
	return a
}

// Open returns the aggregator of deviceID after folding any legacy per-day
// history into its best-per-day map. The fold runs at most once per device
// per process and is skipped when a previous run already completed.
func (d *Directory) Open(ctx context.Context, deviceID string) *Aggregator {
	a := d.For(deviceID)

	d.mu.Lock()
	done := d.checked[deviceID]
	d.checked[deviceID] = true
	d.mu.Unlock()

	if !done && !a.Migrated(ctx) {
		if n := a.MigrateLegacy(ctx); n > 0 {
			d.logger.Info().Str("device", deviceID).Int("dates", n).Msg("legacy results migrated")
		}
	}
	return a
}

// Clock returns the shared day clock.
func (d *Directory) Clock() *daykey.Clock { return d.clock }
