package cachecore

const (
	// MinLevel stores deflate blocks without compressing them.
	MinLevel = 0
	// MaxLevel is the best (slowest) deflate level.
	MaxLevel = 9
	// DefaultLevel balances speed and ratio.
	DefaultLevel = 6
)

// Settings decide whether and how values are deflated before they reach a store.
type Settings struct {
	Enabled bool
	Level   int
}

// DefaultSettings returns the out-of-the-box global defaults.
func DefaultSettings() Settings {
	return Settings{Enabled: true, Level: DefaultLevel}
}

// Normalized returns s with Level clamped into [MinLevel, MaxLevel].
func (s Settings) Normalized() Settings {
	s.Level = ClampLevel(s.Level)
	return s
}

// ClampLevel forces level into the supported deflate range.
func ClampLevel(level int) int {
	if level < MinLevel {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}
