package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// storage backends
const (
	BackendMemory    = "memory"
	BackendBolt      = "bolt"
	BackendNATS      = "nats"
	BackendMongo     = "mongo"
	BackendZooKeeper = "zookeeper"
	BackendRaft      = "raft"
)

// Config is the root configuration structure.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Client  ClientConfig  `yaml:"client"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Health  HealthConfig  `yaml:"health"`
}

// ServerConfig configures the lock server.
type ServerConfig struct {
	Addr     string        `yaml:"addr"`     // ":8080"
	TTL      time.Duration `yaml:"ttl"`      // lease duration, e.g. "30s"
	Identity string        `yaml:"identity"` // requester when a request names none, defaults to hostname
}

// StorageConfig selects and configures the lease store.
type StorageConfig struct {
	Backend   string          `yaml:"backend"` // memory, bolt, nats, mongo, zookeeper, raft
	Bolt      BoltConfig      `yaml:"bolt"`
	NATS      NATSConfig      `yaml:"nats"`
	Mongo     MongoConfig     `yaml:"mongo"`
	ZooKeeper ZooKeeperConfig `yaml:"zookeeper"`
	Raft      RaftConfig      `yaml:"raft"`
}

type BoltConfig struct {
	Path string `yaml:"path"` // "./elector.db"
}

type NATSConfig struct {
	URL    string `yaml:"url"`    // "nats://localhost:4222"
	Bucket string `yaml:"bucket"` // key-value bucket holding the leases
}

type MongoConfig struct {
	URI        string `yaml:"uri"` // "mongodb://localhost:27017"
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type ZooKeeperConfig struct {
	Servers        []string      `yaml:"servers"` // ["localhost:2181"]
	Root           string        `yaml:"root"`    // parent znode of the leases
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

// RaftConfig configures the replicated store formed by the lock servers themselves.
type RaftConfig struct {
	NodeID        string   `yaml:"node_id"`        // defaults to the server identity
	BindAddr      string   `yaml:"bind_addr"`      // "127.0.0.1:7000"
	AdvertiseAddr string   `yaml:"advertise_addr"` // optional
	DataDir       string   `yaml:"data_dir"`       // "./raft"
	Bootstrap     bool     `yaml:"bootstrap"`
	Peers         []string `yaml:"peers"` // ["node-2=10.0.0.2:7000", ...]
}

// ClientConfig configures the election loop.
type ClientConfig struct {
	ServerURL        string        `yaml:"server_url"` // "http://localhost:8080"
	Identity         string        `yaml:"identity"`   // defaults to hostname
	LockName         string        `yaml:"lock_name"`
	Interval         time.Duration `yaml:"interval"`        // wait between attempts and renewals
	ReleaseTimeout   time.Duration `yaml:"release_timeout"` // how long release waits for maintenance to stop
	Flaky            bool          `yaml:"flaky"`           // inject renewal faults
	FaultProbability float64       `yaml:"fault_probability"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

type MetricsConfig struct {
	Path string `yaml:"path"` // served on the server addr, "/metrics"
}

type HealthConfig struct {
	Addr string `yaml:"addr"` // gRPC health service, empty disables it
}

// Load loads configuration from a YAML file and applies defaults.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Validate checks the configuration for values no component can run with.
// Call it again after overriding fields from flags.
func (c *Config) Validate() error {
	if c.Server.TTL < time.Second {
		return fmt.Errorf("server.ttl must be at least 1s, got %s", c.Server.TTL)
	}
	if c.Client.Interval <= 0 {
		return errors.New("client.interval must be positive")
	}
	if c.Client.ReleaseTimeout <= 0 {
		return errors.New("client.release_timeout must be positive")
	}
	if c.Client.FaultProbability < 0 || c.Client.FaultProbability > 1 {
		return fmt.Errorf("client.fault_probability must be within [0, 1], got %v", c.Client.FaultProbability)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendBolt:
		if c.Storage.Bolt.Path == "" {
			return errors.New("storage.bolt.path is required")
		}
	case BackendNATS:
		if c.Storage.NATS.URL == "" {
			return errors.New("storage.nats.url is required")
		}
	case BackendMongo:
		if c.Storage.Mongo.URI == "" {
			return errors.New("storage.mongo.uri is required")
		}
	case BackendZooKeeper:
		if len(c.Storage.ZooKeeper.Servers) == 0 {
			return errors.New("storage.zookeeper.servers is required")
		}
	case BackendRaft:
		if c.Storage.Raft.BindAddr == "" {
			return errors.New("storage.raft.bind_addr is required")
		}
		if _, err := c.Storage.Raft.ParsePeers(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}

	return nil
}

// Peer is one "id=addr" entry of RaftConfig.Peers.
type Peer struct {
	ID      string
	Address string
}

func (r RaftConfig) ParsePeers() ([]Peer, error) {
	peers := make([]Peer, 0, len(r.Peers))
	for _, p := range r.Peers {
		id, addr, ok := strings.Cut(p, "=")
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("storage.raft.peers entry %q must be id=addr", p)
		}
		peers = append(peers, Peer{ID: id, Address: addr})
	}
	return peers, nil
}
