package config

import "time"

// Settings is everything missionctl needs to run a mission outside tests.
type Settings struct {
	// Mission pacing.
	TickPeriod time.Duration
	MaxTicks   int

	LogLevel string
	Metrics  bool
	Tracing  bool

	// HistoryPath is the SQLite database for run records. Empty keeps
	// history in memory.
	HistoryPath string

	// HTTPAddr enables the HTTP API when set.
	HTTPAddr string

	// Redis holds pending prompts when Addr is set.
	Redis RedisSettings

	// Robot selects the robot adapters: "sim" or "grpc".
	Robot string

	// Directory maps service names (optionally "service@host") to gRPC endpoints.
	Directory map[string]string

	RemoteTickInterval time.Duration

	Sim SimSettings
}

// RedisSettings configures the Redis prompt store.
type RedisSettings struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// SimSettings configures the simulated robot.
type SimSettings struct {
	Waypoints []string
	Battery   float64
	Drain     float64
	Command   time.Duration
	Power     time.Duration
	Navigate  time.Duration
	Localize  time.Duration
	Media     time.Duration
	State     time.Duration
}

// Defaults returns the settings used for keys that are not configured.
func Defaults() Settings {
	return Settings{
		TickPeriod:         100 * time.Millisecond,
		LogLevel:           "info",
		Robot:              "sim",
		Directory:          map[string]string{},
		RemoteTickInterval: 100 * time.Millisecond,
		Redis: RedisSettings{
			KeyPrefix: "mission:prompt:",
			TTL:       24 * time.Hour,
		},
		Sim: SimSettings{
			Waypoints: []string{"dock"},
			Battery:   100,
			Drain:     1,
			Command:   500 * time.Millisecond,
			Power:     time.Second,
			Navigate:  3 * time.Second,
			Localize:  500 * time.Millisecond,
			Media:     200 * time.Millisecond,
			State:     20 * time.Millisecond,
		},
	}
}

// Load reads Settings from c, falling back to Defaults per key.
//
//	mission:   {tick_period, max_ticks}
//	log:       {level}
//	metrics, tracing
//	history:   {path}
//	http:      {addr}
//	redis:     {addr, password, db, key_prefix, ttl}
//	robot, directory
//	remote:    {tick_interval}
//	sim:       {waypoints, battery, drain, timings: {command, power, navigate, localize, media, state}}
func Load(c Config) Settings {
	d := Defaults()
	return Settings{
		TickPeriod:         c.Duration("mission.tick_period", d.TickPeriod),
		MaxTicks:           c.Int("mission.max_ticks", d.MaxTicks),
		LogLevel:           c.String("log.level", d.LogLevel),
		Metrics:            c.Bool("metrics", d.Metrics),
		Tracing:            c.Bool("tracing", d.Tracing),
		HistoryPath:        c.String("history.path", d.HistoryPath),
		HTTPAddr:           c.String("http.addr", d.HTTPAddr),
		Robot:              c.String("robot", d.Robot),
		Directory:          c.StringMap("directory", d.Directory),
		RemoteTickInterval: c.Duration("remote.tick_interval", d.RemoteTickInterval),
		Redis: RedisSettings{
			Addr:      c.String("redis.addr", d.Redis.Addr),
			Password:  c.String("redis.password", d.Redis.Password),
			DB:        c.Int("redis.db", d.Redis.DB),
			KeyPrefix: c.String("redis.key_prefix", d.Redis.KeyPrefix),
			TTL:       c.Duration("redis.ttl", d.Redis.TTL),
		},
		Sim: SimSettings{
			Waypoints: c.StringSlice("sim.waypoints", d.Sim.Waypoints),
			Battery:   c.Float("sim.battery", d.Sim.Battery),
			Drain:     c.Float("sim.drain", d.Sim.Drain),
			Command:   c.Duration("sim.timings.command", d.Sim.Command),
			Power:     c.Duration("sim.timings.power", d.Sim.Power),
			Navigate:  c.Duration("sim.timings.navigate", d.Sim.Navigate),
			Localize:  c.Duration("sim.timings.localize", d.Sim.Localize),
			Media:     c.Duration("sim.timings.media", d.Sim.Media),
			State:     c.Duration("sim.timings.state", d.Sim.State),
		},
	}
}
