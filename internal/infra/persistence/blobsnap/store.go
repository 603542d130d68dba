// Package blobsnap persists herd state as generation-numbered JSON snapshots in
// a blob store (filesystem, S3 or memory). Each commit writes a new object and
// prunes generations beyond the retention limit.
package blobsnap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"herdcore/internal/blob/core"
	"herdcore/internal/infra/persistence/memory"
	"herdcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	// DefaultPrefix is the key prefix snapshots are written under.
	DefaultPrefix = "herd/state/"
	// DefaultRetain is the number of generations kept after each commit.
	DefaultRetain = 5
	contentType   = "application/json"
)

// Options tunes key layout and retention.
type Options struct {
	Prefix string
	Retain int
	// Logger receives prune failures. Defaults to the logrus standard logger.
	Logger logrus.FieldLogger
}

// Store wraps the in-memory store and archives every commit to a blob store.
type Store struct {
	*memory.Store
	blobs  core.Store
	prefix string
	retain int
	logger logrus.FieldLogger

	generation atomic.Uint64
	pruneMu    sync.Mutex
}

// NewStore hydrates from the newest snapshot under the prefix, if any.
func NewStore(ctx context.Context, blobs core.Store, engine *domain.RulesEngine, opts Options) (*Store, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store required")
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if !strings.HasSuffix(opts.Prefix, "/") {
		opts.Prefix += "/"
	}
	if opts.Retain <= 0 {
		opts.Retain = DefaultRetain
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	s := &Store{Store: memory.NewStore(engine), blobs: blobs, prefix: opts.Prefix, retain: opts.Retain, logger: opts.Logger}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Generation returns the generation number of the last written snapshot.
func (s *Store) Generation() uint64 { return s.generation.Load() }

func (s *Store) keyFor(gen uint64) string {
	return fmt.Sprintf("%s%020d.json", s.prefix, gen)
}

func (s *Store) generationOf(key string) (uint64, bool) {
	name := strings.TrimSuffix(strings.TrimPrefix(key, s.prefix), ".json")
	gen, err := strconv.ParseUint(name, 10, 64)
	return gen, err == nil
}

// snapshotKeys returns snapshot keys under the prefix, oldest first.
func (s *Store) snapshotKeys(ctx context.Context) ([]string, error) {
	infos, err := s.blobs.List(ctx, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		if _, ok := s.generationOf(info.Key); ok {
			keys = append(keys, info.Key)
		}
	}
	return keys, nil
}

func (s *Store) load(ctx context.Context) error {
	keys, err := s.snapshotKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	latest := keys[len(keys)-1]
	_, rc, err := s.blobs.Get(ctx, latest)
	if err != nil {
		return fmt.Errorf("get snapshot %s: %w", latest, err)
	}
	defer func() { _ = rc.Close() }()
	payload, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read snapshot %s: %w", latest, err)
	}
	var snapshot memory.Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", latest, err)
	}
	s.ImportState(snapshot)
	gen, _ := s.generationOf(latest)
	s.generation.Store(gen)
	return nil
}

// RunInTransaction applies fn and archives the resulting snapshot before the
// in-memory state is committed.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	var persistErr error
	res, err := s.Store.RunInTransactionWithHook(ctx, fn, func(ctx context.Context, commit memory.Commit) error {
		persistErr = s.persist(ctx, commit.Snapshot())
		return persistErr
	})
	if persistErr != nil {
		return res, domain.InfrastructureError{Op: "blob snapshot", Err: persistErr}
	}
	if err != nil {
		return res, err
	}
	// the commit stands even if old generations cannot be removed
	if err := s.prune(ctx); err != nil {
		s.logger.WithError(err).WithField("prefix", s.prefix).Warn("prune snapshots failed")
	}
	return res, nil
}

// persist runs under the memory store's commit lock, so generations are
// claimed in commit order.
func (s *Store) persist(ctx context.Context, snapshot memory.Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	next := s.generation.Load() + 1
	meta := map[string]string{"generation": strconv.FormatUint(next, 10)}
	if _, err := s.blobs.Put(ctx, s.keyFor(next), bytes.NewReader(payload), core.PutOptions{ContentType: contentType, Metadata: meta}); err != nil {
		return err
	}
	s.generation.Store(next)
	return nil
}

// prune deletes the oldest generations beyond the retention limit. Concurrent
// commits prune one at a time.
func (s *Store) prune(ctx context.Context) error {
	s.pruneMu.Lock()
	defer s.pruneMu.Unlock()
	keys, err := s.snapshotKeys(ctx)
	if err != nil {
		return err
	}
	for len(keys) > s.retain {
		if _, err := s.blobs.Delete(ctx, keys[0]); err != nil {
			return fmt.Errorf("prune %s: %w", keys[0], err)
		}
		keys = keys[1:]
	}
	return nil
}
