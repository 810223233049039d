// Package codestore keeps submitted code and per-stage artifacts in an embedded badger database.
//
// Keys are laid out per session so that a session can be dropped with one prefix scan:
//
//	session/<id>/code
//	session/<id>/artifact/<block>/<stage>
package codestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"rustsentry/internal/logging"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("codestore: not found")

type Config struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration
}

// Store is the interface the session manager depends on.
type Store interface {
	PutCode(ctx context.Context, sessionID, code string) error
	GetCode(ctx context.Context, sessionID string) (string, error)
	PutArtifact(ctx context.Context, sessionID string, block int, stage string, data []byte) error
	ListArtifacts(ctx context.Context, sessionID string) (map[string][]byte, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

type BadgerStore struct {
	db     *badger.DB
	log    zerolog.Logger
	stopGC chan struct{}
	gcDone chan struct{}
}

func Open(cfg Config) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("path is required for persistent code store")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create code store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	log := logging.Component("codestore")
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{log: log})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &BadgerStore{db: db, log: log}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval)
	}
	return s, nil
}

func (s *BadgerStore) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.gcDone
	}
	return s.db.Close()
}

func codeKey(sessionID string) []byte {
	return []byte("session/" + sessionID + "/code")
}

// ArtifactName is the "<block>/<stage>" name ListArtifacts reports for an artifact.
func ArtifactName(block int, stage string) string {
	return fmt.Sprintf("%d/%s", block, stage)
}

// ParseArtifactName splits a name produced by ArtifactName.
func ParseArtifactName(name string) (block int, stage string, err error) {
	idx, stage, ok := strings.Cut(name, "/")
	if !ok || stage == "" {
		return 0, "", fmt.Errorf("malformed artifact name %q", name)
	}
	block, err = strconv.Atoi(idx)
	if err != nil {
		return 0, "", fmt.Errorf("malformed artifact name %q: %w", name, err)
	}
	return block, stage, nil
}

func artifactKey(sessionID string, block int, stage string) []byte {
	return []byte("session/" + sessionID + "/artifact/" + ArtifactName(block, stage))
}

func sessionPrefix(sessionID string) []byte {
	return []byte("session/" + sessionID + "/")
}

func (s *BadgerStore) PutCode(ctx context.Context, sessionID, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(codeKey(sessionID), []byte(code))
	})
}

func (s *BadgerStore) GetCode(ctx context.Context, sessionID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var code []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(codeKey(sessionID))
		if err != nil {
			return err
		}
		code, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(code), nil
}

func (s *BadgerStore) PutArtifact(ctx context.Context, sessionID string, block int, stage string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(artifactKey(sessionID, block, stage), data)
	})
}

// ListArtifacts returns the session's artifacts keyed by "<block>/<stage>".
func (s *BadgerStore) ListArtifacts(ctx context.Context, sessionID string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte("session/" + sessionID + "/artifact/")
	out := make(map[string][]byte)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 16})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[strings.TrimPrefix(string(item.Key()), string(prefix))] = val
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteSession removes every key under the session prefix. Missing sessions are not an error.
func (s *BadgerStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prefix := sessionPrefix(sessionID)

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (s *BadgerStore) runGC(interval time.Duration) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						s.log.Debug().Err(err).Msg("value log gc")
					}
					break
				}
			}
		}
	}
}

// badgerLogger adapts zerolog to badger's Logger interface.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(strings.TrimSpace(format), args...)
}
