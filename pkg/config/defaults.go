package config

import (
	"time"

	"github.com/metaparticle-io/container-lib/pkg/store/mongo"
	"github.com/metaparticle-io/container-lib/pkg/store/natskv"
	"github.com/metaparticle-io/container-lib/pkg/store/zk"
)

// applyDefaults applies default values to configuration fields that are not set.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.TTL == 0 {
		cfg.Server.TTL = 30 * time.Second
	}

	// Storage defaults
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendMemory
	}
	if cfg.Storage.Bolt.Path == "" {
		cfg.Storage.Bolt.Path = "./elector.db"
	}
	if cfg.Storage.NATS.Bucket == "" {
		cfg.Storage.NATS.Bucket = natskv.DefaultBucket
	}
	if cfg.Storage.Mongo.Database == "" {
		cfg.Storage.Mongo.Database = mongo.DefaultDatabase
	}
	if cfg.Storage.Mongo.Collection == "" {
		cfg.Storage.Mongo.Collection = mongo.DefaultCollection
	}
	if cfg.Storage.ZooKeeper.Root == "" {
		cfg.Storage.ZooKeeper.Root = zk.DefaultRoot
	}
	if cfg.Storage.ZooKeeper.SessionTimeout == 0 {
		cfg.Storage.ZooKeeper.SessionTimeout = 10 * time.Second
	}
	if cfg.Storage.Raft.DataDir == "" {
		cfg.Storage.Raft.DataDir = "./raft"
	}

	// Client defaults
	if cfg.Client.ServerURL == "" {
		cfg.Client.ServerURL = "http://localhost:8080"
	}
	if cfg.Client.LockName == "" {
		cfg.Client.LockName = "leader"
	}
	if cfg.Client.Interval == 0 {
		cfg.Client.Interval = 10 * time.Second
	}
	if cfg.Client.ReleaseTimeout == 0 {
		cfg.Client.ReleaseTimeout = 10 * time.Second
	}
	if cfg.Client.FaultProbability == 0 {
		cfg.Client.FaultProbability = 0.5
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	// Metrics defaults
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}
