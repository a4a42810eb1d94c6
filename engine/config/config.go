package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Carmen-Shannon/oxy-holo/engine/holo_manager"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Manager ManagerConfig `toml:"manager"`
	Memory  MemoryConfig  `toml:"memory"`
	Workers WorkersConfig `toml:"workers"`
	Engine  EngineConfig  `toml:"engine"`
	Logging LoggingConfig `toml:"logging"`
	Stage   StageConfig   `toml:"stage"`
}

type ManagerConfig struct {
	FrameUpdateLimit time.Duration `toml:"frame_update_limit"` // per-frame scheduling budget
	FrustumCulling   bool          `toml:"frustum_culling"`
	ImmediateMode    bool          `toml:"immediate_mode"`
	EditorPreview    bool          `toml:"editor_preview"`
	MaxLOD           int           `toml:"max_lod"` // highest LOD index; LODs are clamped to [0, max_lod]
}

type MemoryConfig struct {
	BlockSize       int           `toml:"block_size"` // bucket granularity in bytes
	CleanupInterval time.Duration `toml:"cleanup_interval"`
	MaxTotalBytes   int64         `toml:"max_total_bytes"` // 0 = unbounded
}

type WorkersConfig struct {
	Count           int           `toml:"count"`
	IdleTimeout     time.Duration `toml:"idle_timeout"`
	RequestPoolSize int           `toml:"request_pool_size"` // also sizes the worker queue
}

type EngineConfig struct {
	TickRate         float64       `toml:"tick_rate"`          // ticks per second
	RenderFrameLimit float64       `toml:"render_frame_limit"` // 0 = uncapped
	Profiling        bool          `toml:"profiling"`
	ProfileInterval  time.Duration `toml:"profile_interval"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

type StageConfig struct {
	Manifest string `toml:"manifest"` // YAML actor list
}

// Load reads a TOML file on top of the defaults and validates the result.
//
// Parameters:
//   - path: config file path
//
// Returns:
//   - *Config: the loaded config
//   - error: read, parse or validation failure
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return defaults()
}

func defaults() *Config {
	return &Config{
		Manager: ManagerConfig{
			FrameUpdateLimit: 4 * time.Millisecond,
			FrustumCulling:   true,
			MaxLOD:           holo_manager.DefaultMaxLOD,
		},
		Memory: MemoryConfig{
			BlockSize:       256 * 1024,
			CleanupInterval: holo_manager.DefaultCleanupInterval,
		},
		Workers: WorkersConfig{
			Count:           4,
			IdleTimeout:     30 * time.Second,
			RequestPoolSize: 256,
		},
		Engine: EngineConfig{
			TickRate:        60,
			ProfileInterval: time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks ranges that would otherwise fail deep inside the manager.
func (c *Config) Validate() error {
	var errs []error
	if c.Manager.FrameUpdateLimit < 0 {
		errs = append(errs, fmt.Errorf("%w: manager.frame_update_limit must not be negative", ErrInvalid))
	}
	if c.Manager.MaxLOD < 0 {
		errs = append(errs, fmt.Errorf("%w: manager.max_lod must not be negative", ErrInvalid))
	}
	if c.Memory.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: memory.block_size must be positive", ErrInvalid))
	}
	if c.Memory.MaxTotalBytes < 0 {
		errs = append(errs, fmt.Errorf("%w: memory.max_total_bytes must not be negative", ErrInvalid))
	}
	if c.Workers.Count <= 0 || c.Workers.RequestPoolSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: workers.count and workers.request_pool_size must be positive", ErrInvalid))
	}
	if c.Engine.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("%w: engine.tick_rate must be positive", ErrInvalid))
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("%w: logging.level: %v", ErrInvalid, err))
	}
	return errors.Join(errs...)
}

// Settings converts the [manager] section to scheduler settings.
func (c *Config) Settings() holo_manager.Settings {
	return holo_manager.Settings{
		FrameUpdateLimit: c.Manager.FrameUpdateLimit,
		FrustumCulling:   c.Manager.FrustumCulling,
		ImmediateMode:    c.Manager.ImmediateMode,
		EditorPreview:    c.Manager.EditorPreview,
	}
}

// NewLogger builds the process logger. "json" selects the production encoder; anything else
// a colored console encoder.
//
// Parameters:
//   - cfg: the [logging] section
//
// Returns:
//   - *zap.Logger: the logger
//   - error: unknown level or zap build failure
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	if strings.EqualFold(cfg.Format, "json") {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zc.EncoderConfig.ConsoleSeparator = "  "
		zc.DisableCaller = true
		zc.DisableStacktrace = true
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
