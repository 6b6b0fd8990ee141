// Package config centralizes the tunable constants spec.md calls out by
// name (TILE_SIZE, K, MAX_R, NUM_CARS_PER_TILE, ...). There is no CLI or
// environment-variable surface (spec.md §6), so this is a plain options
// struct rather than a flag/env parser — the one ambient concern in this
// module left on the standard library, justified in DESIGN.md.
package config

type Config struct {
	// TileSize is the world-tile side length ("TILE_SIZE" in spec.md §3).
	TileSize float32
	// BuildingRingK is the odd ring width for the tile manager (§4.6), K=5
	// by default per spec.md.
	BuildingRingK int
	// TrafficRingK is the odd ring width for the traffic manager (§4.7).
	TrafficRingK int
	// CarsPerTile is NUM_CARS_PER_TILE (§4.7).
	CarsPerTile int
	// MaxR is the time-slicing divisor ceiling (§4.8), 8 by default.
	MaxR int
	// GenerationAttempts is the per-tile placement attempt budget ("N" in
	// §4.6 step 2).
	GenerationAttempts int
	// DeferredFreeFrames is the GPU-visible handle pool's N-frame deferred
	// free queue depth (§4.1), and the dynamic-ring retirement lag.
	DeferredFreeFrames int
	// TrafficTargetClearRadius is the fixed clear radius buildings must
	// respect around traffic targets (§4.6 step 3).
	TrafficTargetClearRadius float32
	// TopBandAltitude is the high-altitude band a building must pierce to
	// classify as TopBuildings/TopPanels (§4.6 step 5).
	TopBandAltitude float32
}

type Option func(*Config)

func WithTileSize(v float32) Option        { return func(c *Config) { c.TileSize = v } }
func WithBuildingRingK(v int) Option       { return func(c *Config) { c.BuildingRingK = v } }
func WithTrafficRingK(v int) Option        { return func(c *Config) { c.TrafficRingK = v } }
func WithCarsPerTile(v int) Option         { return func(c *Config) { c.CarsPerTile = v } }
func WithMaxR(v int) Option                { return func(c *Config) { c.MaxR = v } }
func WithGenerationAttempts(v int) Option  { return func(c *Config) { c.GenerationAttempts = v } }
func WithDeferredFreeFrames(v int) Option  { return func(c *Config) { c.DeferredFreeFrames = v } }
func WithTrafficClearRadius(v float32) Option {
	return func(c *Config) { c.TrafficTargetClearRadius = v }
}
func WithTopBandAltitude(v float32) Option { return func(c *Config) { c.TopBandAltitude = v } }

// Default returns the spec's literal defaults (TILE_SIZE=1000, K=5, MAX_R=8).
func Default(opts ...Option) Config {
	c := Config{
		TileSize:                 1000,
		BuildingRingK:             5,
		TrafficRingK:              5,
		CarsPerTile:               16,
		MaxR:                      8,
		GenerationAttempts:        64,
		DeferredFreeFrames:        3,
		TrafficTargetClearRadius:  8,
		TopBandAltitude:           120,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
