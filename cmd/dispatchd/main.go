// Command dispatchd is a minimal daemon entry point that wires a
// dispatch.Config into a running dispatch.Node and blocks until it
// receives a termination signal. spec.md stops at the library boundary
// ("Application bootstrap... out of scope, specified only as
// collaborators"), but a complete repo needs something runnable for an
// operator to deploy and for integration tests to drive end to end.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dispatch-cluster/dispatch"
	"go.uber.org/zap"
)

func main() {
	var (
		nodeID      = flag.String("node-id", "", "cluster-unique identity for this node (required)")
		bindAddr    = flag.String("bind", "0.0.0.0:7070", "address the invoke server listens on")
		advertise   = flag.String("advertise", "", "address peers should dial to reach this node (defaults to -bind)")
		etcd        = flag.String("etcd", "", "comma-separated etcd endpoints for peer bootstrap discovery")
		shutdownDur = flag.Duration("shutdown-timeout", 10*time.Second, "grace period for draining in-flight calls on shutdown")
	)
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	if *nodeID == "" {
		log.Fatal("-node-id is required")
	}

	cfg := dispatch.DefaultConfig(*nodeID, *bindAddr)
	cfg.AdvertiseAddr = *advertise
	cfg.Logger = log
	if *etcd != "" {
		cfg.EtcdEndpoints = strings.Split(*etcd, ",")
	}

	node, err := dispatch.New(cfg)
	if err != nil {
		log.Fatal("failed to construct node", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := node.Start(ctx); err != nil {
		log.Fatal("failed to start node", zap.Error(err))
	}

	<-ctx.Done()
	log.Info("shutdown signal received")

	if err := node.Stop(*shutdownDur); err != nil {
		log.Error("error during shutdown", zap.Error(err))
	}
}
