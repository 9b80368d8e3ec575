/*
Package config reads engine and tool settings from loosely typed maps.

Config wraps a map[string]any, typically the result of decoding a YAML or
JSON file or of viper's AllSettings, and extracts typed values with
defaults. Missing keys and values of the wrong type yield the default.

	cfg := config.New(map[string]any{
	    "mission": map[string]any{"tick_period": "50ms"},
	    "redis":   map[string]any{"addr": "localhost:6379"},
	})

	period := cfg.Duration("mission.tick_period", 100*time.Millisecond) // 50ms
	addr := cfg.String("redis.addr", "")                                // "localhost:6379"

Keys are dotted paths into nested sections. Values coming from environment
variables are strings, so the numeric, boolean and duration accessors parse
strings as well.

# Settings

Load collects everything the missionctl tool needs into a Settings value:

	cfg, err := config.FromFile("mission.yaml")
	if err != nil {
	    return err
	}
	s := config.Load(cfg)

Fields not present in the file keep the values of Defaults.

Config is safe for concurrent reads. It never modifies the wrapped map.
*/
package config
