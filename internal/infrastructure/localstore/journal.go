package localstore

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/bimakw/walletsync/internal/config"
)

const (
	defaultJournalDir = "./wal/tokens"
	journalPrefix     = "partition_"
)

// Entry is one keyed journal payload
type Entry struct {
	Key     string
	Payload []byte
}

// Journal is the durable log behind the store. Append is the commit point.
type Journal interface {
	Append(key string, payload []byte) error
	// Rewrite appends entries as one atomic batch and restarts the compaction budget
	Rewrite(entries []Entry) error
	// CompactionDue reports that the store must rewrite its full state
	// before older entries can be rotated out
	CompactionDue() bool
	Replay(fn func(key string, payload []byte) error) error
	Close() error
}

// WALJournal persists partition snapshots in a gowal write-ahead log.
// gowal drops its oldest segment once MaxSegments is exceeded, so the
// journal asks for a full rewrite every budget appends.
type WALJournal struct {
	wal          *gowal.Wal
	mu           sync.Mutex
	budget       int
	sinceRewrite int
}

// minBoundedSegments keeps the previous rewrite on disk until the next one lands
const minBoundedSegments = 3

// compactionBudget returns how many appends may follow a rewrite while the
// rewrite is still retained; 0 means segments are never removed
func compactionBudget(threshold, maxSegments int) int {
	if maxSegments <= 0 {
		return 0
	}
	if threshold < 1 {
		threshold = 1
	}
	if maxSegments < minBoundedSegments {
		maxSegments = minBoundedSegments
	}
	budget := (maxSegments - 1) * threshold / 2
	if budget < 1 {
		budget = 1
	}
	return budget
}

// OpenWALJournal initializes a WAL journal under cfg.WALDir
func OpenWALJournal(cfg config.StoreConfig) (*WALJournal, error) {
	dir := cfg.WALDir
	if dir == "" {
		dir = defaultJournalDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure WAL directory %s", dir)
	}

	maxSegments := cfg.MaxSegments
	if maxSegments > 0 && maxSegments < minBoundedSegments {
		maxSegments = minBoundedSegments
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           journalPrefix,
		SegmentThreshold: cfg.SegmentThreshold,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: cfg.SyncDisk,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init token store WAL")
	}

	return &WALJournal{
		wal:    wal,
		budget: compactionBudget(cfg.SegmentThreshold, maxSegments),
	}, nil
}

// Append writes one entry at the next WAL index
func (j *WALJournal) Append(key string, payload []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	nextIndex := j.wal.CurrentIndex() + 1
	if err := j.wal.Write(nextIndex, key, payload); err != nil {
		return err
	}
	j.sinceRewrite++
	return nil
}

// Rewrite writes entries at the next WAL indexes in a single batch
func (j *WALJournal) Rewrite(entries []Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(entries) == 0 {
		j.sinceRewrite = 0
		return nil
	}

	next := j.wal.CurrentIndex() + 1
	records := make([]gowal.Record, 0, len(entries))
	for i, e := range entries {
		records = append(records, gowal.Record{
			Index: next + uint64(i),
			Key:   e.Key,
			Value: e.Payload,
		})
	}

	batch, err := gowal.NewBatch(records...)
	if err != nil {
		return errors.Wrap(err, "build rewrite batch")
	}
	if err := j.wal.WriteBatch(batch); err != nil {
		return errors.Wrap(err, "write rewrite batch")
	}

	j.sinceRewrite = 0
	return nil
}

// CompactionDue reports whether the append budget since the last rewrite is spent
func (j *WALJournal) CompactionDue() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.budget > 0 && j.sinceRewrite >= j.budget
}

// Replay feeds every entry to fn in write order
func (j *WALJournal) Replay(fn func(key string, payload []byte) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.wal.CurrentIndex() == 0 {
		return nil
	}
	for msg := range j.wal.Iterator() {
		if err := fn(msg.Key, msg.Value); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying WAL
func (j *WALJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.wal.Close()
}
