package raft

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
)

const snapshotsRetained = 3

// durable raft state for one node
// logstore : stores the Raft log entries
// stablestore : stores stable Raft metadata [stable = survives restarts]
// snapshotstore : stores snapshots of FSM state
type Storage struct {
	LogStore      raft.LogStore
	StableStore   raft.StableStore
	SnapshotStore raft.SnapshotStore

	bolt *raftboltdb.BoltStore
}

func NewStorage(dataDir string, logger hclog.Logger) (*Storage, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	//boltDB is used for both log and stable storage
	boltDB, err := raftboltdb.New(raftboltdb.Options{
		Path: filepath.Join(dataDir, "raft.db"),
	})
	if err != nil {
		return nil, fmt.Errorf("open raft log: %w", err)
	}

	//snapshot store (file-based)
	snapshotStore, err := raft.NewFileSnapshotStoreWithLogger(filepath.Join(dataDir, "snapshots"), snapshotsRetained, logger)
	if err != nil {
		boltDB.Close()
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	return &Storage{
		LogStore:      boltDB,
		StableStore:   boltDB,
		SnapshotStore: snapshotStore,
		bolt:          boltDB,
	}, nil
}

func (s *Storage) Close() error {
	return s.bolt.Close()
}
