// Package storage is the BadgerDB message store.
package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"familychat/pkg/interfaces"
	"familychat/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Config struct {
	Path       string        `json:"path" mapstructure:"path"`
	InMemory   bool          `json:"in_memory" mapstructure:"in_memory"`
	SyncWrites bool          `json:"sync_writes" mapstructure:"sync_writes"`
	GCInterval time.Duration `json:"gc_interval" mapstructure:"gc_interval"`
}

func DefaultConfig() Config {
	return Config{
		Path:       "./data/badger",
		SyncWrites: true,
		GCInterval: 10 * time.Minute,
	}
}

// BadgerStore implements interfaces.MessageStore.
//
// Keys are "msg:{group}:{unixnano, 19 digits}:{id}", so a prefix scan of one
// group walks its messages in timestamp order and the ID breaks ties.
type BadgerStore struct {
	db         *badger.DB
	gcInterval time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// Open opens the database described by cfg and starts value log GC.
func Open(cfg Config) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(badgerLogger{zap.S().Named("badger")}).
		WithLoggingLevel(badger.WARNING)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("database opening failed: %w", err)
	}

	s := NewBadgerStore(db, cfg.GCInterval)
	if !cfg.InMemory && cfg.GCInterval > 0 {
		s.wg.Add(1)
		go s.runGC()
	}

	zap.S().Infow("badger store opened", "path", cfg.Path, "in_memory", cfg.InMemory)
	return s, nil
}

// NewBadgerStore wraps an open database. The store owns db from now on.
func NewBadgerStore(db *badger.DB, gcInterval time.Duration) *BadgerStore {
	return &BadgerStore{db: db, gcInterval: gcInterval, stop: make(chan struct{})}
}

func messageKey(message *types.ChatMessage) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s",
		message.Group,
		message.Timestamp.UnixNano(),
		message.ID,
	))
}

func groupPrefix(group types.GroupID) []byte {
	return []byte(fmt.Sprintf("msg:%s:", group))
}

func (s *BadgerStore) AppendMessage(ctx context.Context, message *types.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return interfaces.ErrStoreClosed
	}

	value, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(message), value)
	})
}

// ListRecent walks the group's keys backwards from the newest and returns
// the collected messages oldest first.
func (s *BadgerStore) ListRecent(ctx context.Context, group types.GroupID, limit int) ([]*types.ChatMessage, error) {
	if limit <= 0 {
		return []*types.ChatMessage{}, nil
	}
	if s.db.IsClosed() {
		return nil, interfaces.ErrStoreClosed
	}

	messages := make([]*types.ChatMessage, 0, limit)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := groupPrefix(group)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.PrefetchSize = limit
		it := txn.NewIterator(options)
		defer it.Close()

		// Seek past the newest possible key, then walk back.
		seekKey := append(append([]byte{}, prefix...), []byte("9999999999999999999~")...)
		for it.Seek(seekKey); it.ValidForPrefix(prefix) && len(messages) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(value []byte) error {
				var message types.ChatMessage
				if err := json.Unmarshal(value, &message); err != nil {
					return fmt.Errorf("failed to unmarshal message: %w", err)
				}
				messages = append(messages, &message)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return lo.Reverse(messages), nil
}

func (s *BadgerStore) HealthCheck(ctx context.Context) error {
	if s.db.IsClosed() {
		return interfaces.ErrStoreClosed
	}
	return s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("health"))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

func (s *BadgerStore) runGC() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for s.db.RunValueLogGC(0.5) == nil {
			}
		case <-s.stop:
			return
		}
	}
}

// Close stops GC and closes the database. It is idempotent.
func (s *BadgerStore) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// badgerLogger routes badger's logging through zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}
