package config

import (
	"time"

	"github.com/google/uuid"
)

// Config wraps a map[string]any with typed accessors. Every accessor
// falls back to its default when the key is missing or the value cannot
// be coerced to the requested type, so callers assembling engine tunables
// from a loaded file never need their own type assertions.
type Config struct {
	data map[string]any
}

// New creates a Config over data. A nil map yields an empty Config whose
// accessors all return their defaults.
func New(data map[string]any) Config {
	if data == nil {
		data = map[string]any{}
	}
	return Config{data: data}
}

// String returns the string for key, or defaultVal.
func (c Config) String(key, defaultVal string) string {
	if s, ok := c.data[key].(string); ok {
		return s
	}
	return defaultVal
}

// Bool returns the boolean for key, or defaultVal.
func (c Config) Bool(key string, defaultVal bool) bool {
	if b, ok := c.data[key].(bool); ok {
		return b
	}
	return defaultVal
}

// Duration returns the duration for key, or defaultVal. A string value is
// parsed with time.ParseDuration ("30s", "1h30m"); a bare number is read
// as seconds, which is what YAML hands back for an unquoted 5 or 2.5.
func (c Config) Duration(key string, defaultVal time.Duration) time.Duration {
	switch v := c.data[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case time.Duration:
		return v
	}
	return defaultVal
}

// Int returns the integer for key, or defaultVal. A float value (JSON
// numbers decode as float64) converts only when it has no fractional
// part; 2.5 polls is not a poll count.
func (c Config) Int(key string, defaultVal int) int {
	switch v := c.data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	}
	return defaultVal
}

// UUID returns the parsed uuid.UUID for key, or defaultVal when the value
// is missing, not a string, or not a valid UUID. Saga scopes are
// identified by uuid.UUID throughout, so a deployment pinning a fixed
// executor id (for a reproducible demo, or a sharded executor pool)
// configures it as a plain string and gets a parsed value back.
func (c Config) UUID(key string, defaultVal uuid.UUID) uuid.UUID {
	s, ok := c.data[key].(string)
	if !ok {
		return defaultVal
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return defaultVal
	}
	return id
}

// Has reports whether key is present.
func (c Config) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Raw returns the underlying map. Callers must not modify it.
func (c Config) Raw() map[string]any {
	return c.data
}
