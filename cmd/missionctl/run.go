package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/mission/pkg/mission"
	"github.com/randalmurphal/mission/pkg/mission/expr"
	"github.com/randalmurphal/mission/pkg/mission/httpapi"
	"github.com/randalmurphal/mission/pkg/mission/prompt"
)

var errMissionFailed = errors.New("mission did not succeed")

type runOptions struct {
	params     []string
	autoAnswer int64
	timeout    time.Duration
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Run a mission until it succeeds or fails",
		Long: `Run a mission against the simulated robot or a gRPC robot service.

Questions asked by Prompt nodes are logged. Answer them with
"missionctl answer" (when prompts are shared through Redis) or through
the HTTP API. With --auto-answer, questions marked for autonomous
processing are answered with the given code.

The final root blackboard is printed as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVarP(&opts.params, "param", "p", nil, "root parameter value as name=value (repeatable)")
	flags.Int64Var(&opts.autoAnswer, "auto-answer", -1, "answer autonomous questions with this code")
	flags.DurationVar(&opts.timeout, "timeout", 0, "give up after this long")
	flags.Duration("tick-period", 0, "time between ticks")
	flags.Int("max-ticks", 0, "stop after this many ticks")
	flags.String("robot", "", "robot adapters: sim or grpc")
	flags.String("http-addr", "", "serve the HTTP API on this address")
	_ = a.v.BindPFlag("mission.tick_period", flags.Lookup("tick-period"))
	_ = a.v.BindPFlag("mission.max_ticks", flags.Lookup("max-ticks"))
	_ = a.v.BindPFlag("robot", flags.Lookup("robot"))
	_ = a.v.BindPFlag("http.addr", flags.Lookup("http-addr"))
	return cmd
}

// runReport is printed when the run ends.
type runReport struct {
	RunID      string         `json:"run_id"`
	Mission    string         `json:"mission"`
	Result     string         `json:"result"`
	Ticks      int            `json:"ticks"`
	Error      string         `json:"error,omitempty"`
	Blackboard map[string]any `json:"blackboard"`
}

func (a *app) run(ctx context.Context, path string, opts runOptions) error {
	s := a.settings
	g, err := loadGraph(path, a)
	if err != nil {
		return err
	}
	params, err := parseParams(g, opts.params)
	if err != nil {
		return err
	}

	rt, err := newRuntime(ctx, s, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			a.logger.Warn("shutdown incomplete", slog.String("error", err.Error()))
		}
	}()

	m, err := mission.NewMission(g,
		mission.WithAdapters(rt.set),
		mission.WithParameterValues(params),
		mission.WithHistory(rt.history),
		mission.WithLogger(a.logger),
		mission.WithMetrics(s.Metrics),
		mission.WithTracing(s.Tracing),
	)
	if err != nil {
		return err
	}

	unsubscribe := rt.broker.Subscribe(a.promptListener(ctx, rt.broker, opts.autoAnswer))
	defer unsubscribe()

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	grp, gctx := errgroup.WithContext(ctx)

	var res mission.Result
	grp.Go(func() error {
		defer cancel()
		var err error
		res, err = m.Run(gctx, mission.WithTickPeriod(s.TickPeriod), mission.WithMaxTicks(s.MaxTicks))
		return err
	})
	grp.Go(func() error { return rt.broker.Run(gctx) })

	if s.HTTPAddr != "" {
		api := httpapi.New(
			httpapi.WithBroker(rt.broker),
			httpapi.WithHistory(rt.history),
			httpapi.WithLogger(a.logger),
		)
		api.Track(g.Name(), m)
		srv := &http.Server{
			Addr:              s.HTTPAddr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return gctx },
		}
		grp.Go(func() error {
			a.logger.Info("http api listening", slog.String("addr", s.HTTPAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http api: %w", err)
			}
			return nil
		})
		grp.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	if err := grp.Wait(); err != nil {
		return err
	}
	return a.report(m, res)
}

func (a *app) report(m *mission.Mission, res mission.Result) error {
	st := m.Status()
	vars, err := m.Snapshot()
	if err != nil {
		return err
	}
	rep := runReport{
		RunID:      st.RunID,
		Mission:    st.Mission,
		Result:     res.String(),
		Ticks:      st.Ticks,
		Blackboard: make(map[string]any, len(vars)),
	}
	for k, c := range vars {
		rep.Blackboard[k] = c.Any()
	}
	if st.Err != nil {
		rep.Error = st.Err.Error()
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return err
	}
	if res != mission.ResultSuccess {
		return fmt.Errorf("%w: %s", errMissionFailed, res)
	}
	return nil
}

// promptListener logs questions and, when code >= 0, answers the ones
// marked for autonomous processing.
func (a *app) promptListener(ctx context.Context, b *prompt.Broker, code int64) prompt.Listener {
	return func(ev prompt.Event) {
		q := ev.Question
		if ev.Type != prompt.EventAsked {
			a.logger.Info("question "+string(ev.Type), slog.String("question_id", q.ID))
			return
		}
		options := make([]string, len(q.Options))
		for i, o := range q.Options {
			options[i] = fmt.Sprintf("%d=%s", o.AnswerCode, o.Text)
		}
		a.logger.Info("question asked",
			slog.String("question_id", q.ID),
			slog.String("node", q.Node),
			slog.String("text", q.Text),
			slog.String("options", strings.Join(options, " ")),
		)
		if code < 0 || !q.ForAutonomousProcessing {
			return
		}
		// Listeners must not block, and answering notifies listeners again.
		go func() {
			if err := b.Answer(context.WithoutCancel(ctx), q.ID, code); err != nil {
				a.logger.Warn("auto answer failed", slog.String("question_id", q.ID), slog.String("error", err.Error()))
			}
		}()
	}
}

// parseParams converts name=value pairs to the types the graph declares.
func parseParams(g *mission.Graph, pairs []string) (map[string]expr.Constant, error) {
	types := make(map[string]expr.Type)
	for _, p := range g.Parameters() {
		types[p.Name] = p.Type
	}

	out := make(map[string]expr.Constant, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("parameter %q: want name=value", pair)
		}
		typ, declared := types[name]
		if !declared {
			return nil, fmt.Errorf("%w: %s", mission.ErrUnknownParameter, name)
		}
		c, err := expr.String(value).Convert(typ)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		out[name] = c
	}
	return out, nil
}
