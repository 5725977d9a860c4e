// Package snapshot is the Snapshot Store (C5): an in-memory map of
// snapshot-id to full per-router running config, backed by buntdb's
// in-memory mode instead of a bare Go map. Snapshots are looked up by id
// only; no index orders them by take time.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/teris-io/shortid"
	"github.com/tidwall/buntdb"

	"github.com/ais-netlab/chaos/cmn/cos"
	"github.com/ais-netlab/chaos/routing"
	"github.com/ais-netlab/chaos/topo"
)

// Snapshot is one take()'s result: a timestamped map of node to its
// running-config text at the time of the take.
type Snapshot struct {
	ID        string
	Timestamp time.Time
	Configs   map[string]string
}

// Store is the append-only snapshot store; no deletion in the core.
type Store struct {
	db      *buntdb.DB
	routing *routing.Driver
	model   *topo.Model
}

func New(routingDriver *routing.Driver, model *topo.Model) (*Store, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("snapshot: opening store: %w", err)
	}
	return &Store{db: db, routing: routingDriver, model: model}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Take reads running config from every router (hosts run no routing
// engine and are skipped), timestamps it, and stores it under a fresh
// random id (§4.4).
func (s *Store) Take(ctx context.Context) (Snapshot, error) {
	id, err := shortid.Generate()
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: generating id: %w", err)
	}

	snap := Snapshot{ID: id, Timestamp: time.Now(), Configs: make(map[string]string)}
	for _, n := range s.model.NodesByRole(topo.RoleRouter) {
		cfg, err := s.routing.ReadRunningConfig(ctx, n.Name)
		if err != nil {
			return Snapshot{}, fmt.Errorf("snapshot: reading config for %s: %w", n.Name, err)
		}
		snap.Configs[n.Name] = cfg
	}

	raw := cos.MustMarshal(snap)
	err = s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key(id), string(raw), nil)
		return err
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: persisting %s: %w", id, err)
	}
	return snap, nil
}

// Apply replays a stored snapshot's per-node configs via
// ApplyFullConfig. Order across nodes is unspecified; callers that need
// global consistency must quiesce producers first (§4.4, §7).
func (s *Store) Apply(ctx context.Context, id string) error {
	snap, err := s.get(id)
	if err != nil {
		return err
	}
	for node, cfg := range snap.Configs {
		if err := s.routing.ApplyFullConfig(ctx, node, cfg); err != nil {
			return fmt.Errorf("snapshot: applying to %s: %w", node, err)
		}
	}
	return nil
}

func (s *Store) get(id string) (Snapshot, error) {
	var raw string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key(id))
		if err != nil {
			return err
		}
		raw = v
		return nil
	})
	if err == buntdb.ErrNotFound {
		return Snapshot{}, cos.NewErrSnapshotMissing(id)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: reading %s: %w", id, err)
	}
	var snap Snapshot
	if err := cos.UnmarshalJSON([]byte(raw), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: decoding %s: %w", id, err)
	}
	return snap, nil
}

func key(id string) string { return "snap:" + id }
