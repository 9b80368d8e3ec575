package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/randalmurphal/mission/pkg/mission"
	"github.com/randalmurphal/mission/pkg/mission/adapter/grpcbridge"
)

type serveOptions struct {
	listen   string
	mission  string
	robotSim bool
}

func newServeCmd(a *app) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a hosted mission or the simulated robot over gRPC",
		Long: `Serve gRPC services for other missions to call.

--mission hosts a mission for RemoteGrpc nodes: every session runs its own
copy, with the session inputs as root parameter values.
--robot-sim serves the simulated robot for missions run with robot=grpc.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.mission == "" && !opts.robotSim {
				return errors.New("nothing to serve: pass --mission, --robot-sim or both")
			}
			srv, rt, cleanup, err := a.grpcServer(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer cleanup()

			lis, err := net.Listen("tcp", opts.listen)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", opts.listen, err)
			}
			a.logger.Info("grpc listening", slog.String("addr", lis.Addr().String()))
			return serveUntilDone(cmd.Context(), srv, lis, rt)
		},
	}
	cmd.Flags().StringVar(&opts.listen, "listen", ":50051", "address to listen on")
	cmd.Flags().StringVar(&opts.mission, "mission", "", "mission file to host")
	cmd.Flags().BoolVar(&opts.robotSim, "robot-sim", false, "serve the simulated robot")
	return cmd
}

// grpcServer registers the requested services. The runtime is nil unless a
// mission is hosted. cleanup releases the simulator and the runtime.
func (a *app) grpcServer(ctx context.Context, opts serveOptions) (*grpc.Server, *runtime, func(), error) {
	srv := grpc.NewServer()
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				a.logger.Warn("cleanup failed", slog.String("error", err.Error()))
			}
		}
	}

	if opts.robotSim {
		robot := newSimRobot(a.settings.Sim, a.logger)
		closers = append(closers, robot.Close)
		grpcbridge.RegisterRobotServer(srv, robot.Adapters(), a.settings.RemoteTickInterval/10, a.logger)
	}

	var rt *runtime
	if opts.mission != "" {
		g, err := loadGraph(opts.mission, a)
		if err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		rt, err = newRuntime(ctx, a.settings, a.logger)
		if err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		closers = append(closers, rt.Close)
		host := grpcbridge.NewHost(g, a.logger,
			mission.WithAdapters(rt.set),
			mission.WithHistory(rt.history),
			mission.WithMetrics(a.settings.Metrics),
			mission.WithTracing(a.settings.Tracing),
		)
		grpcbridge.RegisterRemoteServer(srv, host)
		a.logger.Info("hosting mission", slog.String("mission", g.Name()))
	}
	return srv, rt, cleanup, nil
}

// serveUntilDone serves until ctx ends, then stops gracefully. Answers
// given in other processes reach hosted missions through rt's broker.
func serveUntilDone(ctx context.Context, srv *grpc.Server, lis net.Listener, rt *runtime) error {
	grp, gctx := errgroup.WithContext(ctx)
	if rt != nil {
		grp.Go(func() error { return rt.broker.Run(gctx) })
	}
	grp.Go(func() error {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	grp.Go(func() error {
		<-gctx.Done()
		srv.GracefulStop()
		return nil
	})
	return grp.Wait()
}
