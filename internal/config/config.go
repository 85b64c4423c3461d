// Package config provides centralized configuration management.
// Every tunable of the simulation server lives here, with defaults that can
// be overridden from the environment (and a .env file loaded by cmd/server).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// =============================================================================
// SIMULATION CONFIGURATION
// =============================================================================

// SimConfig holds world and tick loop settings.
type SimConfig struct {
	TickRate    int     // Ticks per second
	WorldWidth  float64 // World width in world units
	WorldHeight float64 // World height in world units
	Seed        int64   // RNG seed; 0 picks one from the clock
	SpawnCount  int     // Bodies spawned at startup
}

// DefaultSim returns the default simulation configuration.
func DefaultSim() SimConfig {
	return SimConfig{
		TickRate:    30,
		WorldWidth:  1280,
		WorldHeight: 720,
		SpawnCount:  100,
	}
}

// SimFromEnv returns simulation configuration with environment overrides.
func SimFromEnv() SimConfig {
	cfg := DefaultSim()

	if v := getEnvInt("TICK_RATE", 0); v > 0 {
		cfg.TickRate = v
	}
	if v := getEnvFloat("WORLD_WIDTH", 0); v > 0 {
		cfg.WorldWidth = v
	}
	if v := getEnvFloat("WORLD_HEIGHT", 0); v > 0 {
		cfg.WorldHeight = v
	}
	if v := getEnvInt("SIM_SEED", 0); v != 0 {
		cfg.Seed = int64(v)
	}
	if v := getEnvInt("SPAWN_COUNT", -1); v >= 0 {
		cfg.SpawnCount = v
	}

	return cfg
}

// =============================================================================
// SPATIAL INDEX CONFIGURATION
// =============================================================================

// SpatialConfig holds spatial hash settings.
type SpatialConfig struct {
	CellSize       float64 // Cell edge length; ~ the typical body size
	ClampToWorld   bool    // Clamp cell ranges to the world bounds
	BucketCapacity int     // Initial capacity of each bucket
}

// DefaultSpatial returns the default spatial configuration.
func DefaultSpatial() SpatialConfig {
	return SpatialConfig{
		CellSize:       64,
		ClampToWorld:   true,
		BucketCapacity: 4,
	}
}

// SpatialFromEnv returns spatial configuration with environment overrides.
func SpatialFromEnv() SpatialConfig {
	cfg := DefaultSpatial()

	if v := getEnvFloat("CELL_SIZE", 0); v > 0 {
		cfg.CellSize = v
	}
	if os.Getenv("CLAMP_TO_WORLD") == "false" {
		cfg.ClampToWorld = false
	}
	if v := getEnvInt("BUCKET_CAPACITY", 0); v > 0 {
		cfg.BucketCapacity = v
	}

	return cfg
}

// =============================================================================
// RESOURCE LIMITS
// =============================================================================

// Limits caps what clients can make the server hold or return.
type Limits struct {
	MaxBodies         int // Hard cap on bodies in the world
	MaxBatch          int // Cap on a single batch spawn
	MaxQueryResults   int // Cap on candidates returned by one API query
	MaxQueryCells     int // Cap on grid cells one query may scan
	MaxSnapshotBodies int // Bodies copied into each snapshot
}

// DefaultLimits returns the default resource limits.
func DefaultLimits() Limits {
	return Limits{
		MaxBodies:         10_000,
		MaxBatch:          500,
		MaxQueryResults:   1_000,
		MaxQueryCells:     65_536,
		MaxSnapshotBodies: 2_000,
	}
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port        int
	CORSOrigins []string // nil uses the localhost defaults
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port: 3000,
	}
}

// ServerFromEnv returns server configuration with environment overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
			}
		}
	}

	return cfg
}

// =============================================================================
// DEBUG / OBSERVABILITY CONFIGURATION
// =============================================================================

// DebugConfig controls the localhost pprof + metrics server.
type DebugConfig struct {
	Enabled       bool
	ListenAddr    string // Forced to loopback unless ALLOW_DEBUG_EXTERNAL=true
	BasicAuthUser string // Optional basic auth
	BasicAuthPass string
	EventLog      string // JSONL event log path, empty keeps events in memory
}

// DefaultDebug returns the default debug configuration.
func DefaultDebug() DebugConfig {
	return DebugConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
		EventLog:   "events.jsonl",
	}
}

// DebugFromEnv returns debug configuration with environment overrides.
func DebugFromEnv() DebugConfig {
	cfg := DefaultDebug()

	if os.Getenv("DISABLE_DEBUG_SERVER") == "true" {
		cfg.Enabled = false
	}
	if v := os.Getenv("DEBUG_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	cfg.BasicAuthUser = os.Getenv("DEBUG_USER")
	cfg.BasicAuthPass = os.Getenv("DEBUG_PASS")
	if v, ok := os.LookupEnv("EVENT_LOG_PATH"); ok {
		cfg.EventLog = v
	}

	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Sim     SimConfig
	Spatial SpatialConfig
	Limits  Limits
	Server  ServerConfig
	Debug   DebugConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Sim:     SimFromEnv(),
		Spatial: SpatialFromEnv(),
		Limits:  DefaultLimits(),
		Server:  ServerFromEnv(),
		Debug:   DebugFromEnv(),
	}
}

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Validate rejects settings the simulation cannot run with.
func (c AppConfig) Validate() error {
	switch {
	case c.Sim.TickRate <= 0:
		return fmt.Errorf("%w: tick rate %d", ErrInvalid, c.Sim.TickRate)
	case c.Sim.WorldWidth <= 0 || c.Sim.WorldHeight <= 0:
		return fmt.Errorf("%w: world %vx%v", ErrInvalid, c.Sim.WorldWidth, c.Sim.WorldHeight)
	case c.Spatial.CellSize <= 0:
		return fmt.Errorf("%w: cell size %v", ErrInvalid, c.Spatial.CellSize)
	case c.Limits.MaxBodies <= 0:
		return fmt.Errorf("%w: max bodies %d", ErrInvalid, c.Limits.MaxBodies)
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
