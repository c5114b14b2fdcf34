package repository

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/upliftlab/uplift/pkg/metrics"
)

// Default store configuration constants.
const (
	defaultShardCount = 8
)

// ShardStore is an in-memory Store sharded by key hash so concurrent
// first-time assignments on different subjects rarely contend.
type ShardStore struct {
	shards []*shard
}

type shard struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewShardStore constructs a sharded record store with configuration options.
func NewShardStore(opts ...Option) *ShardStore {
	s := &ShardStore{}

	cfg := storeConfig{shardCount: defaultShardCount}
	for _, opt := range opts {
		opt(&cfg)
	}

	s.shards = make([]*shard, cfg.shardCount)
	for i := range s.shards {
		s.shards[i] = &shard{records: make(map[string]Record)}
	}
	return s
}

// Get returns the record for (experimentID, subjectID).
func (s *ShardStore) Get(ctx context.Context, experimentID, subjectID string) (Record, error) {
	key := recordKey(experimentID, subjectID)
	sh := s.shardFor(key)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	rec, ok := sh.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// PutIfAbsent stores rec unless the key is already taken. The winning record
// is returned either way.
func (s *ShardStore) PutIfAbsent(ctx context.Context, rec Record) (Record, bool) {
	key := recordKey(rec.ExperimentID, rec.SubjectID)
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if existing, ok := sh.records[key]; ok {
		return existing, false
	}
	sh.records[key] = rec
	return rec, true
}

// Count returns the number of records across all shards and refreshes the
// record gauge.
func (s *ShardStore) Count(ctx context.Context) int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.records)
		sh.mu.RUnlock()
	}
	metrics.UpdateAssignmentRecords(total)
	return total
}

func (s *ShardStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[int(h.Sum32())%len(s.shards)]
}

func recordKey(experimentID, subjectID string) string {
	return experimentID + "\x00" + subjectID
}
