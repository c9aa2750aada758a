// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianQuery/services/queryagent/datatypes"
)

// SchemaCache stores introspected schema descriptors in BadgerDB so
// repeated sessions against the same table skip the sampling queries.
// Entries carry a TTL; a stale entry is simply re-introspected.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions provide isolation.
type SchemaCache struct {
	db  *badger.DB
	ttl time.Duration
}

// NewSchemaCache wraps an open BadgerDB instance. The caller owns the
// database lifecycle.
func NewSchemaCache(db *badger.DB, ttl time.Duration) *SchemaCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SchemaCache{db: db, ttl: ttl}
}

// OpenSchemaCache opens a BadgerDB at path and wraps it. Pass an empty
// path for an in-memory cache.
func OpenSchemaCache(path string, ttl time.Duration) (*SchemaCache, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(&badgerSlogAdapter{logger: slog.Default()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open schema cache: %w", err)
	}
	return NewSchemaCache(db, ttl), nil
}

// Close closes the underlying database.
func (c *SchemaCache) Close() error {
	return c.db.Close()
}

// schemaCacheKey derives a stable key from the data source name and
// table. The hash keeps credentials out of the keyspace.
func schemaCacheKey(dsn, table string) []byte {
	sum := sha256.Sum256([]byte(dsn + "|" + table))
	return []byte("schema:" + hex.EncodeToString(sum[:12]))
}

// Get returns the cached descriptor, or (nil, nil) on a miss.
func (c *SchemaCache) Get(ctx context.Context, dsn, table string) (*datatypes.SchemaDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var descriptor *datatypes.SchemaDescriptor
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(schemaCacheKey(dsn, table))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var d datatypes.SchemaDescriptor
			if err := json.Unmarshal(val, &d); err != nil {
				return fmt.Errorf("decode cached schema: %w", err)
			}
			descriptor = &d
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return descriptor, nil
}

// Put stores a descriptor with the cache TTL.
func (c *SchemaCache) Put(ctx context.Context, dsn, table string, descriptor *datatypes.SchemaDescriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(descriptor)
	if err != nil {
		return fmt.Errorf("encode schema descriptor: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(schemaCacheKey(dsn, table), payload).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
}

// Invalidate drops the cached descriptor for one table.
func (c *SchemaCache) Invalidate(ctx context.Context, dsn, table string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(schemaCacheKey(dsn, table))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// badgerSlogAdapter routes BadgerDB's internal logging through slog.
type badgerSlogAdapter struct {
	logger *slog.Logger
}

func (l *badgerSlogAdapter) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerSlogAdapter) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerSlogAdapter) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerSlogAdapter) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
