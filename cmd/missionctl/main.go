// Command missionctl validates, runs and serves missions.
//
//	missionctl validate inspect.yaml
//	missionctl run inspect.yaml --param target=valve --http-addr :8080
//	missionctl answer <question-id> 1
//	missionctl history list --mission inspect
//	missionctl serve --listen :50051 --mission remote.yaml --robot-sim
//
// Settings come from flags, MISSION_* environment variables
// (MISSION_REDIS_ADDR for redis.addr) and an optional config file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(newApp(os.Stdout, os.Stderr)).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
