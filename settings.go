package cachecompress

import (
	"context"
	"sync"

	"github.com/goforj/cachecompress/cachecore"
)

// Settings is re-exported for callers that only import this package.
type Settings = cachecore.Settings

// DefaultsSource supplies the global compression defaults. It is consulted on
// every operation, so implementations may change their answer at any time.
type DefaultsSource interface {
	CompressionDefaults() Settings
}

// StaticDefaults is a DefaultsSource with fixed values.
type StaticDefaults Settings

// CompressionDefaults implements DefaultsSource.
func (d StaticDefaults) CompressionDefaults() Settings { return Settings(d) }

// DefaultsFunc adapts a function to DefaultsSource.
type DefaultsFunc func() Settings

// CompressionDefaults implements DefaultsSource.
func (f DefaultsFunc) CompressionDefaults() Settings {
	if f == nil {
		return cachecore.DefaultSettings()
	}
	return f()
}

type settingsKey struct{}

// WithCompression returns a context whose operations use s, ahead of any
// repository or global setting.
func WithCompression(ctx context.Context, s Settings) context.Context {
	return context.WithValue(ctx, settingsKey{}, s)
}

// WithCompressionDisabled scopes disabled compression to operations using ctx.
func WithCompressionDisabled(ctx context.Context) context.Context {
	return WithCompression(ctx, Settings{Enabled: false, Level: cachecore.DefaultLevel})
}

// WithCompressionLevel scopes enabled compression at level to operations using ctx.
func WithCompressionLevel(ctx context.Context, level int) context.Context {
	return WithCompression(ctx, Settings{Enabled: true, Level: level})
}

// CompressionFromContext returns the operation-scoped settings carried by ctx.
func CompressionFromContext(ctx context.Context) (Settings, bool) {
	if ctx == nil {
		return Settings{}, false
	}
	s, ok := ctx.Value(settingsKey{}).(Settings)
	return s, ok
}

// settingsPatch carries the fields a caller wants to change on the instance override.
type settingsPatch struct {
	enabled *bool
	level   *int
}

// settingsResolver applies precedence ctx > instance override > global default.
type settingsResolver struct {
	defaults DefaultsSource

	mu       sync.Mutex
	override *Settings
}

func newSettingsResolver(defaults DefaultsSource) *settingsResolver {
	if defaults == nil {
		defaults = StaticDefaults(cachecore.DefaultSettings())
	}
	return &settingsResolver{defaults: defaults}
}

// resolve returns the settings for one operation. An instance override used
// here is cleared before returning.
func (r *settingsResolver) resolve(ctx context.Context) Settings {
	if s, ok := CompressionFromContext(ctx); ok {
		return s.Normalized()
	}
	r.mu.Lock()
	if r.override != nil {
		s := *r.override
		r.override = nil
		r.mu.Unlock()
		return s.Normalized()
	}
	r.mu.Unlock()
	return r.defaults.CompressionDefaults().Normalized()
}

func (r *settingsResolver) merge(p settingsPatch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.override == nil {
		seed := r.defaults.CompressionDefaults()
		r.override = &seed
	}
	if p.enabled != nil {
		r.override.Enabled = *p.enabled
	}
	if p.level != nil {
		r.override.Level = cachecore.ClampLevel(*p.level)
	}
}

func (r *settingsResolver) clear() {
	r.mu.Lock()
	r.override = nil
	r.mu.Unlock()
}

func (r *settingsResolver) current() (Settings, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.override == nil {
		return Settings{}, false
	}
	return *r.override, true
}
