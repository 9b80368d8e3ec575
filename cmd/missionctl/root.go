package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/randalmurphal/mission/internal/logging"
	"github.com/randalmurphal/mission/pkg/mission/config"
	"github.com/randalmurphal/mission/pkg/mission/history"
)

// app carries what every command shares. Commands read settings after
// PersistentPreRunE has loaded them.
type app struct {
	v        *viper.Viper
	out      io.Writer
	errOut   io.Writer
	cfgFile  string
	settings config.Settings
	logger   *slog.Logger
}

func newApp(out, errOut io.Writer) *app {
	return &app{
		v:      viper.New(),
		out:    out,
		errOut: errOut,
		logger: logging.NewNop(),
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "missionctl",
		Short:         "Validate, run and serve behavior tree missions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.initialize()
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (default ./missionctl.yaml if present)")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("history", "", "SQLite database for run history")
	flags.String("redis-addr", "", "Redis server for shared prompts")
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("history.path", flags.Lookup("history"))
	_ = a.v.BindPFlag("redis.addr", flags.Lookup("redis-addr"))

	root.AddCommand(
		newValidateCmd(a),
		newRunCmd(a),
		newAnswerCmd(a),
		newHistoryCmd(a),
		newServeCmd(a),
	)
	return root
}

// initialize loads settings: defaults, then the config file, then
// MISSION_* variables, then flags.
func (a *app) initialize() error {
	setDefaults(a.v)

	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		a.v.AddConfigPath(".")
		a.v.SetConfigName("missionctl")
		a.v.SetConfigType("yaml")
	}
	a.v.SetEnvPrefix("MISSION")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || a.cfgFile != "" {
			return fmt.Errorf("read config file: %w", err)
		}
	}

	a.settings = config.Load(config.New(a.v.AllSettings()))

	level, err := logging.ParseLevel(a.settings.LogLevel)
	if err != nil {
		return err
	}
	a.logger = logging.New(a.errOut, level)
	return nil
}

// setDefaults registers every settings key so that AllSettings and
// AutomaticEnv know about it.
func setDefaults(v *viper.Viper) {
	d := config.Defaults()
	defaults := map[string]any{
		"mission.tick_period":  d.TickPeriod,
		"mission.max_ticks":    d.MaxTicks,
		"log.level":            d.LogLevel,
		"metrics":              d.Metrics,
		"tracing":              d.Tracing,
		"history.path":         d.HistoryPath,
		"http.addr":            d.HTTPAddr,
		"redis.addr":           d.Redis.Addr,
		"redis.password":       d.Redis.Password,
		"redis.db":             d.Redis.DB,
		"redis.key_prefix":     d.Redis.KeyPrefix,
		"redis.ttl":            d.Redis.TTL,
		"robot":                d.Robot,
		"directory":            map[string]any{},
		"remote.tick_interval": d.RemoteTickInterval,
		"sim.waypoints":        d.Sim.Waypoints,
		"sim.battery":          d.Sim.Battery,
		"sim.drain":            d.Sim.Drain,
		"sim.timings.command":  d.Sim.Command,
		"sim.timings.power":    d.Sim.Power,
		"sim.timings.navigate": d.Sim.Navigate,
		"sim.timings.localize": d.Sim.Localize,
		"sim.timings.media":    d.Sim.Media,
		"sim.timings.state":    d.Sim.State,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// historyStore opens the configured run database. An in-memory store would
// always be empty here, so a path is required.
func (a *app) historyStore() (history.Store, error) {
	if a.settings.HistoryPath == "" {
		return nil, errors.New("no history database configured (history.path, MISSION_HISTORY_PATH or --history)")
	}
	return openHistory(a.settings.HistoryPath)
}
