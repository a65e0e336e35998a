// Package config handles configuration loading for the map view server.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Cache    CacheConfig    `yaml:"cache"`
	Engine   EngineConfig   `yaml:"engine"`
	Sync     SyncConfig     `yaml:"sync"`
	Render   RenderConfig   `yaml:"render"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port              int      `yaml:"port"`
	CORSOrigins       []string `yaml:"cors_origins"`
	MaxSessions       int      `yaml:"max_sessions"`
	SessionTTLMinutes int      `yaml:"session_ttl_minutes"`
	RateLimitRPS      float64  `yaml:"rate_limit_rps"`
	RateLimitBurst    int      `yaml:"rate_limit_burst"`
	TrustProxy        bool     `yaml:"trust_proxy"`
}

// UpstreamConfig contains content-service settings.
type UpstreamConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	QuerySizeMB     int `yaml:"query_size_mb"`
	QueryTTLMinutes int `yaml:"query_ttl_minutes"`
	NodeCacheSize   int `yaml:"node_cache_size"`
	NodeTTLMinutes  int `yaml:"node_ttl_minutes"`
}

// EngineConfig contains map engine tunables.
type EngineConfig struct {
	HexSpacing      float64 `yaml:"hex_spacing"`
	MaxRenderNodes  int     `yaml:"max_render_nodes"`
	ConnectionDist  float64 `yaml:"connection_dist"`
	ClusterGridSize float64 `yaml:"cluster_grid_size"`
	FrameIntervalMS int     `yaml:"frame_interval_ms"`
}

// SyncConfig contains node-status sync settings.
type SyncConfig struct {
	SQLitePath          string `yaml:"sqlite_path"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
}

// RenderConfig contains preview rendering settings.
type RenderConfig struct {
	Width     int     `yaml:"width"`
	Height    int     `yaml:"height"`
	HexRadius float64 `yaml:"hex_radius"`
}

// Load reads configuration from a YAML file, then applies environment
// overrides. A missing file yields the defaults; a .env file beside the
// process, when present, feeds the environment first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8080,
			CORSOrigins:       []string{"http://localhost:3000", "http://localhost:5173"},
			MaxSessions:       256,
			SessionTTLMinutes: 30,
			RateLimitRPS:      50,
			RateLimitBurst:    100,
		},
		Upstream: UpstreamConfig{
			BaseURL:        "http://localhost:8000",
			TimeoutSeconds: 15,
		},
		Cache: CacheConfig{
			QuerySizeMB:     64,
			QueryTTLMinutes: 5,
			NodeCacheSize:   4096,
			NodeTTLMinutes:  10,
		},
		Engine: EngineConfig{
			HexSpacing:      100,
			MaxRenderNodes:  200,
			ConnectionDist:  250,
			ClusterGridSize: 400,
			FrameIntervalMS: 16,
		},
		Sync: SyncConfig{
			SQLitePath:          "./data/mapsync.db",
			PollIntervalSeconds: 3,
		},
		Render: RenderConfig{
			Width:     1024,
			Height:    768,
			HexRadius: 40,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.MaxSessions == 0 {
		cfg.Server.MaxSessions = defaults.Server.MaxSessions
	}
	if cfg.Server.SessionTTLMinutes == 0 {
		cfg.Server.SessionTTLMinutes = defaults.Server.SessionTTLMinutes
	}
	if cfg.Server.RateLimitRPS == 0 {
		cfg.Server.RateLimitRPS = defaults.Server.RateLimitRPS
	}
	if cfg.Server.RateLimitBurst == 0 {
		cfg.Server.RateLimitBurst = defaults.Server.RateLimitBurst
	}
	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = defaults.Upstream.BaseURL
	}
	if cfg.Upstream.TimeoutSeconds == 0 {
		cfg.Upstream.TimeoutSeconds = defaults.Upstream.TimeoutSeconds
	}
	if cfg.Cache.QuerySizeMB == 0 {
		cfg.Cache.QuerySizeMB = defaults.Cache.QuerySizeMB
	}
	if cfg.Cache.QueryTTLMinutes == 0 {
		cfg.Cache.QueryTTLMinutes = defaults.Cache.QueryTTLMinutes
	}
	if cfg.Cache.NodeCacheSize == 0 {
		cfg.Cache.NodeCacheSize = defaults.Cache.NodeCacheSize
	}
	if cfg.Cache.NodeTTLMinutes == 0 {
		cfg.Cache.NodeTTLMinutes = defaults.Cache.NodeTTLMinutes
	}
	if cfg.Engine.HexSpacing == 0 {
		cfg.Engine.HexSpacing = defaults.Engine.HexSpacing
	}
	if cfg.Engine.MaxRenderNodes == 0 {
		cfg.Engine.MaxRenderNodes = defaults.Engine.MaxRenderNodes
	}
	if cfg.Engine.ConnectionDist == 0 {
		cfg.Engine.ConnectionDist = defaults.Engine.ConnectionDist
	}
	if cfg.Engine.ClusterGridSize == 0 {
		cfg.Engine.ClusterGridSize = defaults.Engine.ClusterGridSize
	}
	if cfg.Engine.FrameIntervalMS == 0 {
		cfg.Engine.FrameIntervalMS = defaults.Engine.FrameIntervalMS
	}
	if cfg.Sync.SQLitePath == "" {
		cfg.Sync.SQLitePath = defaults.Sync.SQLitePath
	}
	if cfg.Sync.PollIntervalSeconds == 0 {
		cfg.Sync.PollIntervalSeconds = defaults.Sync.PollIntervalSeconds
	}
	if cfg.Render.Width == 0 {
		cfg.Render.Width = defaults.Render.Width
	}
	if cfg.Render.Height == 0 {
		cfg.Render.Height = defaults.Render.Height
	}
	if cfg.Render.HexRadius == 0 {
		cfg.Render.HexRadius = defaults.Render.HexRadius
	}
}

// applyEnv overrides file values from the environment, so containerized
// deploys can configure without a mounted file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("MAP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MAP_UPSTREAM_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := os.Getenv("MAP_SYNC_SQLITE_PATH"); v != "" {
		cfg.Sync.SQLitePath = v
	}
}
