/*
Package config provides type-safe configuration extraction from
map[string]any, for the handful of tunables sagaflow's own code never
hardcodes: lock timeouts, resumer polling intervals, and executor ids.

# Overview

config wraps a map[string]any and provides typed accessor methods that
handle missing keys and type mismatches gracefully by returning default
values, so a caller building a resumer.Config or a Definition's
lockTimeout from a YAML file never needs its own type assertions.

# Basic Usage

	cfg, err := config.FromFile("orderticket.yaml")
	if err != nil {
	    log.Fatal(err)
	}

	lockTimeout := cfg.Duration("lock_timeout", 30*time.Second)
	restartWithDuration := cfg.Duration("restart_with_duration", 5*time.Second)
	executorID := cfg.UUID("executor_id", uuid.New())

Keys are looked up as-is in the top-level map; a dotted key such as
"resumer.restart_with_duration" does not descend into nested maps.

# Type Coercion

Duration handles multiple input types:
  - string: parsed with time.ParseDuration ("30s", "1h30m")
  - int/float64: interpreted as seconds
  - time.Duration: used directly

UUID parses a string value with uuid.Parse, falling back to defaultVal on
any parse failure — useful for pinning a demo's executor id across runs
without threading a flag through every call site.

All methods return the default value if the key is missing, the value
can't be converted to the requested type, or the conversion would lose
precision (e.g. float to int with a fractional part).

# File Loading

	cfg, err := config.FromFile("config.yaml") // or .json
	cfg, err = config.FromYAML(yamlBytes)
	cfg, err = config.FromJSON(jsonBytes)

# Thread Safety

Config is safe for concurrent read access; the underlying map is never
mutated after New returns it.
*/
package config
