package main

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/samuel/go-zookeeper/zk"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/metaparticle-io/container-lib/pkg/config"
	"github.com/metaparticle-io/container-lib/pkg/raft"
	"github.com/metaparticle-io/container-lib/pkg/store"
	mongostore "github.com/metaparticle-io/container-lib/pkg/store/mongo"
	"github.com/metaparticle-io/container-lib/pkg/store/natskv"
	zkstore "github.com/metaparticle-io/container-lib/pkg/store/zk"
)

// an opened store plus whatever must be torn down with it
type backend struct {
	store store.Store
	node  *raft.Node // set for the raft backend only
	close func()
}

func openBackend(ctx context.Context, cfg *config.Config, logger hclog.Logger) (*backend, error) {
	sc := cfg.Storage

	switch sc.Backend {
	case config.BackendMemory:
		return &backend{store: store.NewMemory(), close: func() {}}, nil

	case config.BackendBolt:
		b, err := store.NewBolt(sc.Bolt.Path)
		if err != nil {
			return nil, err
		}
		return &backend{store: b, close: func() { b.Close() }}, nil

	case config.BackendNATS:
		nc, err := nats.Connect(sc.NATS.URL, nats.Name("elector"))
		if err != nil {
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create JetStream context: %w", err)
		}
		s, err := natskv.New(ctx, js, sc.NATS.Bucket)
		if err != nil {
			nc.Close()
			return nil, err
		}
		return &backend{store: s, close: nc.Close}, nil

	case config.BackendMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(sc.Mongo.URI))
		if err != nil {
			return nil, fmt.Errorf("connect to MongoDB: %w", err)
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			client.Disconnect(context.Background())
			return nil, fmt.Errorf("ping MongoDB: %w", err)
		}
		return &backend{
			store: mongostore.New(client, sc.Mongo.Database, sc.Mongo.Collection),
			close: func() { client.Disconnect(context.Background()) },
		}, nil

	case config.BackendZooKeeper:
		zkLogger := logger.Named("zookeeper").StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})
		conn, _, err := zk.Connect(sc.ZooKeeper.Servers, sc.ZooKeeper.SessionTimeout, zk.WithLogger(zkLogger))
		if err != nil {
			return nil, fmt.Errorf("connect to ZooKeeper: %w", err)
		}
		return &backend{store: zkstore.New(conn, sc.ZooKeeper.Root), close: conn.Close}, nil

	case config.BackendRaft:
		peers, err := sc.Raft.ParsePeers()
		if err != nil {
			return nil, err
		}
		raftPeers := make([]raft.Peer, 0, len(peers))
		for _, p := range peers {
			raftPeers = append(raftPeers, raft.Peer{ID: p.ID, Address: p.Address})
		}

		nodeID := sc.Raft.NodeID
		if nodeID == "" {
			nodeID = cfg.Server.Identity
		}

		node, err := raft.NewNode(&raft.Config{
			NodeID:        nodeID,
			BindAddr:      sc.Raft.BindAddr,
			AdvertiseAddr: sc.Raft.AdvertiseAddr,
			DataDir:       sc.Raft.DataDir,
			Bootstrap:     sc.Raft.Bootstrap,
			Peers:         raftPeers,
			Logger:        logger.Named("raft"),
		})
		if err != nil {
			return nil, err
		}
		return &backend{
			store: raft.NewStore(node),
			node:  node,
			close: func() {
				if err := node.Shutdown(); err != nil {
					logger.Warn("raft shutdown failed", "error", err)
				}
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
}
