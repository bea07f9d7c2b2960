// Package config loads the global compression defaults from files and the
// environment with viper, and keeps them current while the process runs.
package config

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/goforj/cachecompress/cachecore"
)

const (
	KeyEnabled = "cache-compress.enabled"
	KeyLevel   = "cache-compress.compression_level"

	EnvEnabled = "CACHE_COMPRESS_ENABLED"
	EnvLevel   = "CACHE_COMPRESS_LEVEL"
)

// ErrInvalidLevel is returned for compression levels outside 0..9.
var ErrInvalidLevel = errors.New("config: compression level out of range")

// Compress mirrors the cache-compress configuration block.
type Compress struct {
	Enabled          bool `mapstructure:"enabled"`
	CompressionLevel int  `mapstructure:"compression_level"`
}

// Validate checks the level range.
func (c Compress) Validate() error {
	if c.CompressionLevel < cachecore.MinLevel || c.CompressionLevel > cachecore.MaxLevel {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, c.CompressionLevel)
	}
	return nil
}

// Settings converts the block into repository settings.
func (c Compress) Settings() cachecore.Settings {
	return cachecore.Settings{Enabled: c.Enabled, Level: c.CompressionLevel}
}

// Source is a cachecompress.DefaultsSource backed by viper. Reads are lock
// free; reloads swap in a new snapshot.
type Source struct {
	v      *viper.Viper
	logger *zap.Logger

	current atomic.Pointer[cachecore.Settings]

	setMu sync.Mutex

	mu          sync.Mutex
	subscribers []func(cachecore.Settings)
}

// Option configures a Source.
type Option func(*Source)

// WithLogger sets the logger used for reload messages.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func newSource(opts []Option) *Source {
	v := viper.New()
	defaults := cachecore.DefaultSettings()
	v.SetDefault(KeyEnabled, defaults.Enabled)
	v.SetDefault(KeyLevel, defaults.Level)
	_ = v.BindEnv(KeyEnabled, EnvEnabled)
	_ = v.BindEnv(KeyLevel, EnvLevel)

	s := &Source{v: v, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// New returns a source built from defaults and environment variables only.
func New(opts ...Option) (*Source, error) {
	s := newSource(opts)
	if err := s.refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads configFile (yaml, json, toml, ...) and applies environment overrides.
func Load(configFile string, opts ...Option) (*Source, error) {
	s := newSource(opts)
	s.v.SetConfigFile(configFile)
	s.v.SetConfigType(strings.TrimPrefix(filepath.Ext(configFile), "."))
	if err := s.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", configFile, err)
	}
	if err := s.refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadFromReader reads configuration of the given type from r.
func LoadFromReader(r io.Reader, configType string, opts ...Option) (*Source, error) {
	s := newSource(opts)
	s.v.SetConfigType(configType)
	if err := s.v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", configType, err)
	}
	if err := s.refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// CompressionDefaults returns the latest valid settings.
func (s *Source) CompressionDefaults() cachecore.Settings {
	if cur := s.current.Load(); cur != nil {
		return *cur
	}
	return cachecore.DefaultSettings()
}

// Compress returns the current block as read from viper.
func (s *Source) Compress() Compress {
	cur := s.CompressionDefaults()
	return Compress{Enabled: cur.Enabled, CompressionLevel: cur.Level}
}

// Set overrides one key at runtime, the way application code flips a config
// value, and publishes the result. An invalid value is rolled back, leaving
// the previous settings in place.
func (s *Source) Set(key string, value any) error {
	s.setMu.Lock()
	defer s.setMu.Unlock()
	prev := s.v.Get(key)
	s.v.Set(key, value)
	if err := s.refresh(); err != nil {
		s.v.Set(key, prev)
		return err
	}
	return nil
}

// Watch reloads the config file whenever it changes. Invalid files are
// logged and ignored.
func (s *Source) Watch() {
	s.v.OnConfigChange(func(e fsnotify.Event) {
		s.logger.Info("cache compression config changed", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		if err := s.refresh(); err != nil {
			s.logger.Warn("cache compression config rejected", zap.Error(err))
		}
	})
	s.v.WatchConfig()
}

// Subscribe registers fn to run after every successful refresh.
func (s *Source) Subscribe(fn func(cachecore.Settings)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.mu.Unlock()
}

func (s *Source) read() Compress {
	return Compress{
		Enabled:          s.v.GetBool(KeyEnabled),
		CompressionLevel: s.v.GetInt(KeyLevel),
	}
}

func (s *Source) refresh() error {
	c := s.read()
	if err := c.Validate(); err != nil {
		return err
	}
	next := c.Settings()
	prev := s.current.Swap(&next)
	if prev != nil && *prev == next {
		return nil
	}
	s.logger.Debug("cache compression defaults",
		zap.Bool("enabled", next.Enabled),
		zap.Int("level", next.Level),
	)

	s.mu.Lock()
	subscribers := make([]func(cachecore.Settings), len(s.subscribers))
	copy(subscribers, s.subscribers)
	s.mu.Unlock()
	for _, fn := range subscribers {
		fn(next)
	}
	return nil
}
