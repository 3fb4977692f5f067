package commands

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/pterm/pterm"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/teranos/tempo/am"
	"github.com/teranos/tempo/errors"
	"github.com/teranos/tempo/logger"
	"github.com/teranos/tempo/pulse/cluster"
	"github.com/teranos/tempo/pulse/coordinator"
	"github.com/teranos/tempo/pulse/executor"
	"github.com/teranos/tempo/pulse/handlers"
	"github.com/teranos/tempo/pulse/metrics"
	"github.com/teranos/tempo/sym"
)

// ServeCmd runs a scheduler node
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: sym.Pulse + " Run a scheduler node",
	Long: sym.Pulse + ` serve — Run a scheduler node

Starts the executors this node owns, the cluster router on the listen
address, the anti-entropy coordinator and the /metrics endpoint.

Features:
- Per-job executors placed on the ring of [cluster.peers]
- Entity leases (sqlite, redis or none) so a job never runs on two nodes
- Membership changes in am.toml apply without a restart
- GRACE shutdown (stops executors and releases leases before exit)

Examples:
  tempo serve
  tempo serve --node-id node-b --listen 10.0.0.2:7466`,
	RunE: runServe,
}

var (
	serveNodeID string
	serveListen string
)

func init() {
	ServeCmd.Flags().StringVar(&serveNodeID, "node-id", "", "Override cluster.node_id")
	ServeCmd.Flags().StringVar(&serveListen, "listen", "", "Override cluster.listen_addr")
}

// node is everything serve starts, in start order.
type node struct {
	cfg         *am.Config
	store       *store
	leases      cluster.LeaseStore
	closeLeases func() error
	transport   *cluster.GRPCTransport
	region      *cluster.Region[handlers.Output]
	coordinator *coordinator.Coordinator[handlers.Output]
	grpc        *grpc.Server
	listener    net.Listener
	metrics     *http.Server
	watcher     *am.ConfigWatcher
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	if serveNodeID != "" {
		cfg.Cluster.NodeID = serveNodeID
	}
	if serveListen != "" {
		cfg.Cluster.ListenAddr = serveListen
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n, err := startNode(ctx, cfg)
	if err != nil {
		return err
	}

	logger.PulseOpenInfow("Node started", logger.FieldNodeID, cfg.Cluster.NodeID, "router", n.listener.Addr().String())
	pterm.Success.Printf("%s tempo node %s started\n", sym.PulseOpen, cfg.Cluster.NodeID)
	pterm.Info.Printf("Router:  %s\n", n.listener.Addr())
	pterm.Info.Printf("Members: %v\n", n.region.Members())
	pterm.Info.Printf("Leases:  %s\n", cfg.Cluster.Lease.Backend)
	if n.metrics != nil {
		pterm.Info.Printf("Metrics: http://%s/metrics\n", cfg.Metrics.ListenAddr)
	}
	fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Pulse)

	// GRACE: Wait for shutdown signal (Ctrl+C)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	pterm.Info.Printf("\n%s Initiating GRACE shutdown (press Ctrl+C again to force)...\n", sym.PulseClose)

	done := make(chan error, 1)
	go func() {
		done <- n.stop()
	}()

	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(err, "shutdown error")
		}
		logger.PulseCloseInfow("Node stopped", logger.FieldNodeID, cfg.Cluster.NodeID)
		pterm.Success.Printf("%s tempo node %s stopped\n", sym.PulseClose, cfg.Cluster.NodeID)
		return nil
	case <-sigChan:
		pterm.Warning.Println("\nForce shutdown - exiting immediately")
		os.Exit(1)
		return nil
	}
}

func startNode(ctx context.Context, cfg *am.Config) (_ *node, err error) {
	n := &node{cfg: cfg}
	defer func() {
		if err != nil {
			_ = n.stop()
		}
	}()

	if n.store, err = openStore(ctx, cfg); err != nil {
		return nil, err
	}

	var rec metrics.Recorder = metrics.Nop{}
	var gatherer prometheus.Gatherer
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rec = metrics.NewPrometheus(cfg.Metrics.Namespace, reg)
		gatherer = reg
	}

	if n.leases, n.closeLeases, err = newLeaseStore(ctx, cfg.Cluster.Lease, n.store.db); err != nil {
		return nil, err
	}

	n.transport = cluster.NewGRPCTransport(cfg.Cluster.Peers, logger.Logger)
	n.region = cluster.NewRegion(
		cluster.RegionConfigFrom(cfg.Cluster),
		executor.Deps[handlers.Output]{
			Registry: n.store.registry,
			Journal:  executor.NewSQLiteJournal(n.store.db),
			Metrics:  rec,
			Logger:   logger.Logger,
		},
		executor.ConfigFrom(cfg.Scheduler),
		n.leases,
		n.transport,
	)

	n.listener, err = net.Listen("tcp", cfg.Cluster.ListenAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", cfg.Cluster.ListenAddr)
	}
	n.grpc = grpc.NewServer()
	n.region.Register(n.grpc)
	go func() {
		if err := n.grpc.Serve(n.listener); err != nil {
			logger.Logger.Errorw("Router server stopped", logger.FieldError, err)
		}
	}()

	if gatherer != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(gatherer))
		n.metrics = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := n.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Logger.Errorw("Metrics server stopped", logger.FieldError, err)
			}
		}()
	}

	n.region.Start(ctx)
	n.coordinator = coordinator.NewWithContext(ctx,
		coordinator.ConfigFrom(cfg.Scheduler), n.store.registry, n.store.jobs, n.region, rec, logger.Logger)
	n.coordinator.Start()

	n.watchConfig()
	return n, nil
}

// watchConfig applies membership changes from the active config file.
func (n *node) watchConfig() {
	path := ConfigPath
	newWatcher := am.NewFileWatcher
	if path == "" {
		path = am.ActiveConfigPath()
		newWatcher = am.NewConfigWatcher
	}
	if path == "" {
		return
	}

	w, err := newWatcher(path)
	if err != nil {
		logger.Logger.Warnw("Config changes will need a restart", logger.FieldFile, path, logger.FieldError, err)
		return
	}
	w.OnReload(func(c *am.Config) error {
		if err := c.Validate(); err != nil {
			return err
		}
		if c.Cluster.NodeID != n.cfg.Cluster.NodeID {
			logger.Logger.Warnw("Ignoring node id change until restart",
				logger.FieldNodeID, n.cfg.Cluster.NodeID, "configured", c.Cluster.NodeID)
			c.Cluster.NodeID = n.cfg.Cluster.NodeID
		}
		n.transport.SetPeers(c.Cluster.Peers)
		n.region.SetMembers(cluster.RegionConfigFrom(c.Cluster).Members)
		n.coordinator.Trigger()
		logger.SymbolInfow(sym.Ring, "Cluster membership reloaded", "members", n.region.Members())
		return nil
	})
	w.Start()
	am.SetGlobalWatcher(w)
	n.watcher = w
}

// stop tears down in reverse start order. It tolerates a partially
// started node.
func (n *node) stop() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if n.watcher != nil {
		keep(n.watcher.Stop())
	}
	if n.coordinator != nil {
		n.coordinator.Stop()
	}
	if n.grpc != nil {
		n.grpc.GracefulStop()
	}
	if n.region != nil {
		n.region.Stop()
	}
	if n.transport != nil {
		keep(n.transport.Close())
	}
	if n.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		keep(n.metrics.Shutdown(ctx))
		cancel()
	}
	if n.closeLeases != nil {
		keep(n.closeLeases())
	}
	if n.store != nil {
		keep(n.store.Close())
	}
	return first
}

// newLeaseStore builds the configured lease backend. The returned func
// releases backend connections.
func newLeaseStore(ctx context.Context, cfg am.LeaseConfig, conn *sql.DB) (cluster.LeaseStore, func() error, error) {
	nop := func() error { return nil }
	switch cfg.Backend {
	case "none":
		return cluster.NopLeases{}, nop, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		leases := cluster.NewRedisLeases(rdb, cfg.KeyPrefix)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := leases.Ping(pingCtx); err != nil {
			rdb.Close()
			return nil, nil, errors.WithHintf(err, "check cluster.lease.redis_addr (%s)", cfg.RedisAddr)
		}
		return leases, rdb.Close, nil
	default:
		return cluster.NewSQLiteLeases(conn), nop, nil
	}
}
