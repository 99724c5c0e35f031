package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/metaparticle-io/container-lib/pkg/config"
	"github.com/metaparticle-io/container-lib/pkg/gateway"
	"github.com/metaparticle-io/container-lib/pkg/health"
	"github.com/metaparticle-io/container-lib/pkg/logging"
	"github.com/metaparticle-io/container-lib/pkg/server"
)

const shutdownTimeout = 10 * time.Second

type serveFlags struct {
	addr       string
	ttl        time.Duration
	identity   string
	backend    string
	healthAddr string

	boltPath  string
	natsURL   string
	mongoURI  string
	zkServers []string

	raftNodeID    string
	raftBind      string
	raftAdvertise string
	raftDataDir   string
	raftBootstrap bool
	raftPeers     []string
}

func newServeCmd(configPath *string) *cobra.Command {
	f := &serveFlags{}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the lock server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, func(cfg *config.Config) { f.apply(cmd, cfg) })
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	f.register(serveCmd)

	return serveCmd
}

func (f *serveFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.addr, "addr", "", "HTTP listen address")
	flags.DurationVar(&f.ttl, "ttl", 0, "lease duration")
	flags.StringVar(&f.identity, "identity", "", "requester used when a request names none (default hostname)")
	flags.StringVar(&f.backend, "backend", "", "storage backend: memory, bolt, nats, mongo, zookeeper, raft")
	flags.StringVar(&f.healthAddr, "health-addr", "", "gRPC health service address")
	flags.StringVar(&f.boltPath, "bolt-path", "", "bolt database file")
	flags.StringVar(&f.natsURL, "nats-url", "", "NATS server URL")
	flags.StringVar(&f.mongoURI, "mongo-uri", "", "MongoDB connection URI")
	flags.StringSliceVar(&f.zkServers, "zk-servers", nil, "ZooKeeper servers")
	flags.StringVar(&f.raftNodeID, "raft-node-id", "", "raft node id (default identity)")
	flags.StringVar(&f.raftBind, "raft-bind", "", "raft bind address")
	flags.StringVar(&f.raftAdvertise, "raft-advertise", "", "raft address peers dial")
	flags.StringVar(&f.raftDataDir, "raft-data-dir", "", "raft data directory")
	flags.BoolVar(&f.raftBootstrap, "raft-bootstrap", false, "bootstrap a new raft cluster")
	flags.StringSliceVar(&f.raftPeers, "raft-peer", nil, "other raft voters as id=addr")
}

// only flags given on the command line override the config
func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if changed("addr") {
		cfg.Server.Addr = f.addr
	}
	if changed("ttl") {
		cfg.Server.TTL = f.ttl
	}
	if changed("identity") {
		cfg.Server.Identity = f.identity
	}
	if changed("backend") {
		cfg.Storage.Backend = f.backend
	}
	if changed("health-addr") {
		cfg.Health.Addr = f.healthAddr
	}
	if changed("bolt-path") {
		cfg.Storage.Bolt.Path = f.boltPath
	}
	if changed("nats-url") {
		cfg.Storage.NATS.URL = f.natsURL
	}
	if changed("mongo-uri") {
		cfg.Storage.Mongo.URI = f.mongoURI
	}
	if changed("zk-servers") {
		cfg.Storage.ZooKeeper.Servers = f.zkServers
	}
	if changed("raft-node-id") {
		cfg.Storage.Raft.NodeID = f.raftNodeID
	}
	if changed("raft-bind") {
		cfg.Storage.Raft.BindAddr = f.raftBind
	}
	if changed("raft-advertise") {
		cfg.Storage.Raft.AdvertiseAddr = f.raftAdvertise
	}
	if changed("raft-data-dir") {
		cfg.Storage.Raft.DataDir = f.raftDataDir
	}
	if changed("raft-bootstrap") {
		cfg.Storage.Raft.Bootstrap = f.raftBootstrap
	}
	if changed("raft-peer") {
		cfg.Storage.Raft.Peers = f.raftPeers
	}

	if cfg.Server.Identity == "" {
		cfg.Server.Identity = defaultIdentity()
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := logging.New("elector", cfg.Logging)

	logger.Info("starting lock server",
		"identity", cfg.Server.Identity,
		"addr", cfg.Server.Addr,
		"ttl", cfg.Server.TTL,
		"backend", cfg.Storage.Backend,
	)

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Storage.Backend, err)
	}
	defer backend.close()

	srv := server.NewServer(backend.store,
		server.WithTTL(cfg.Server.TTL),
		server.WithIdentity(cfg.Server.Identity),
		server.WithLogger(logger.Named("server")),
	)
	handler := server.NewHandler(srv, server.WithHandlerLogger(logger.Named("http")))
	gw := gateway.NewServer(cfg.Server.Addr, handler, cfg.Metrics.Path, logger.Named("http"))

	errCh := make(chan error, 2)

	if cfg.Health.Addr != "" {
		lis, err := net.Listen("tcp", cfg.Health.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.Health.Addr, err)
		}

		hs := health.New(logger.Named("health"))
		if backend.node != nil {
			//raft followers cannot serve leases
			hs.SetServing(backend.node.IsLeader())
			go hs.FollowLeadership(ctx, backend.node.LeaderCh())
		} else {
			hs.SetServing(true)
		}

		go func() { errCh <- hs.Serve(lis) }()
		defer hs.Stop()
	}

	go func() { errCh <- gw.Start(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := gw.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}
