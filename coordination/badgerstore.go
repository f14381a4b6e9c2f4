// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/routefabric/routefabric/ferrors"
)

// Key schema for the Badger-backed coordination store, mirroring the
// prefix/suffix convention of a project snapshot store:
//
//	fabric:entry:{path}       → JSON(badgerRecord)
//	fabric:session:{id}       → last-renewed Unix millis (lease liveness)
const (
	badgerKeyPrefixEntry   = "fabric:entry:"
	badgerKeyPrefixSession = "fabric:session:"
)

// badgerRecord is the JSON-serialized form of one coordination entry.
type badgerRecord struct {
	Value         []byte `json:"value"`
	Version       int64  `json:"version"`
	Mode          Mode   `json:"mode"`
	SessionID     string `json:"session_id"`
	CreationMilli int64  `json:"creation_milli"`
	WriteMilli    int64  `json:"write_milli"`
}

// BadgerBackend wraps an opened *badger.DB shared by one or more
// session-scoped BadgerStore client handles (SPEC_FULL §4.10).
//
// Thread Safety: Safe for concurrent use; BadgerDB owns its own locking.
type BadgerBackend struct {
	db      *badger.DB
	mu      sync.Mutex
	verSeq  int64
	logger  *slog.Logger
}

// OpenBadgerBackend opens (or creates) a Badger database at dir. Pass
// InMemoryDir to get a throwaway in-memory instance suitable for tests.
func OpenBadgerBackend(dir string, logger *slog.Logger) (*BadgerBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := badger.DefaultOptions(dir)
	if dir == InMemoryDir {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}
	return &BadgerBackend{db: db, logger: logger}, nil
}

// InMemoryDir requests an in-memory Badger instance (no path on disk).
const InMemoryDir = ""

// Close closes the underlying Badger database.
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

// ExpireSession deletes every ephemeral entry owned by sessionID (I3).
func (b *BadgerBackend) ExpireSession(sessionID string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		var toDelete [][]byte
		prefix := []byte(badgerKeyPrefixEntry)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var rec badgerRecord
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
				continue
			}
			if rec.Mode == ModeEphemeral && rec.SessionID == sessionID {
				toDelete = append(toDelete, append([]byte(nil), item.Key()...))
			}
		}
		for _, k := range toDelete {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerBackend) nextVersion() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verSeq++
	return b.verSeq
}

// BadgerStore is a session-scoped Store handle over a BadgerBackend.
type BadgerStore struct {
	backend   *BadgerBackend
	session   Session
	sessionID string
}

// NewBadgerClient returns a new session-scoped Store handle over backend.
func NewBadgerClient(backend *BadgerBackend, physicalAddress []byte) *BadgerStore {
	id := uuid.NewString()
	return &BadgerStore{
		backend:   backend,
		sessionID: id,
		session:   Session{Prefix: []byte(id), PhysicalAddress: physicalAddress},
	}
}

func entryKey(path string) []byte { return []byte(badgerKeyPrefixEntry + path) }

func (s *BadgerStore) Create(_ context.Context, path string, value []byte, mode Mode) (*Entry, error) {
	now := time.Now()
	rec := badgerRecord{
		Value:         append([]byte(nil), value...),
		Version:       s.backend.nextVersion(),
		Mode:          mode,
		SessionID:     s.sessionID,
		CreationMilli: now.UnixMilli(),
		WriteMilli:    now.UnixMilli(),
	}
	err := s.backend.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(entryKey(path)); err == nil {
			return ferrors.ErrDuplicateEntry
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(entryKey(path), data)
	})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	children, _ := s.Children(context.Background(), path)
	return recordToEntry(path, rec, children), nil
}

func (s *BadgerStore) GetOrCreate(ctx context.Context, path string, value []byte, mode Mode) (*Entry, error) {
	e, err := s.Create(ctx, path, value, mode)
	if err == nil {
		return e, nil
	}
	if !errorsIsDuplicate(err) {
		return nil, err
	}
	return s.Get(ctx, path)
}

func (s *BadgerStore) Get(_ context.Context, path string) (*Entry, error) {
	var rec badgerRecord
	var found bool
	err := s.backend.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(path))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) })
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	if !found {
		return nil, nil
	}
	children, _ := s.Children(context.Background(), path)
	return recordToEntry(path, rec, children), nil
}

func (s *BadgerStore) SetValue(_ context.Context, path string, value []byte, expectedVersion int64) (int64, error) {
	var prior int64
	err := s.backend.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(path))
		if err == badger.ErrKeyNotFound {
			return ferrors.ErrEntryNotFound
		}
		if err != nil {
			return err
		}
		var rec badgerRecord
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
			return err
		}
		if expectedVersion != AnyVersion && rec.Version != expectedVersion {
			return fmt.Errorf("version mismatch (have %d, want %d)", rec.Version, expectedVersion)
		}
		prior = rec.Version
		rec.Value = append([]byte(nil), value...)
		rec.Version = s.backend.nextVersion()
		rec.WriteMilli = time.Now().UnixMilli()
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(entryKey(path), data)
	})
	if err != nil {
		return 0, fmt.Errorf("set %s: %w", path, err)
	}
	return prior, nil
}

func (s *BadgerStore) Delete(_ context.Context, path string, expectedVersion int64, recursive bool) (int64, error) {
	var prior int64
	err := s.backend.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(path))
		if err == badger.ErrKeyNotFound {
			return ferrors.ErrEntryNotFound
		}
		if err != nil {
			return err
		}
		var rec badgerRecord
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
			return err
		}
		if expectedVersion != AnyVersion && rec.Version != expectedVersion {
			return fmt.Errorf("version mismatch (have %d, want %d)", rec.Version, expectedVersion)
		}
		prior = rec.Version
		if err := txn.Delete(entryKey(path)); err != nil {
			return err
		}
		if recursive {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			prefix := entryKey(path + "/")
			var toDelete [][]byte
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				toDelete = append(toDelete, append([]byte(nil), it.Item().Key()...))
			}
			for _, k := range toDelete {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", path, err)
	}
	return prior, nil
}

func (s *BadgerStore) Children(_ context.Context, path string) ([]string, error) {
	prefix := entryKey(strings.TrimRight(path, "/") + "/")
	seen := map[string]bool{}
	err := s.backend.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			if seg, _, found := strings.Cut(rest, "/"); found {
				seen[seg] = true
			} else if rest != "" {
				seen[rest] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func (s *BadgerStore) Session(_ context.Context) (Session, error) {
	return s.session, nil
}

// RenewLease refreshes this session's liveness marker. Implements
// LeaseRenewer so SessionManager.StartKeepAlive drives it automatically.
func (s *BadgerStore) RenewLease(_ context.Context) error {
	key := []byte(badgerKeyPrefixSession + s.sessionID)
	return s.backend.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, []byte(fmt.Sprintf("%d", time.Now().UnixMilli())))
	})
}

func (s *BadgerStore) Close() error {
	return s.backend.ExpireSession(s.sessionID)
}

func recordToEntry(path string, rec badgerRecord, children []string) *Entry {
	return &Entry{
		Path:          path,
		Value:         rec.Value,
		Version:       rec.Version,
		Mode:          rec.Mode,
		CreationTime:  time.UnixMilli(rec.CreationMilli),
		LastWriteTime: time.UnixMilli(rec.WriteMilli),
		Children:      children,
	}
}

func errorsIsDuplicate(err error) bool {
	return err != nil && (err == ferrors.ErrDuplicateEntry || strings.Contains(err.Error(), ferrors.ErrDuplicateEntry.Error()))
}

var _ Store = (*BadgerStore)(nil)
var _ LeaseRenewer = (*BadgerStore)(nil)
