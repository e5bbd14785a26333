// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AleutianAI/FieldOps/pkg/validation"
	"github.com/AleutianAI/FieldOps/services/edge/domain"
	"github.com/dgraph-io/badger/v4"
)

var (
	// ErrNotFound is returned when no record has the requested ID.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidID is returned when an ID is not a positive integer.
	ErrInvalidID = errors.New("invalid id")

	// ErrInUse is returned when deleting a record other records refer to.
	ErrInUse = errors.New("record is referenced by other records")

	// ErrMissingReference is returned when a foreign key names a record
	// that does not exist.
	ErrMissingReference = errors.New("referenced record does not exist")
)

// ReferenceError names the foreign key that failed a write. It matches
// ErrMissingReference with errors.Is.
type ReferenceError struct {
	Entity string
	ID     string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Entity, e.ID, ErrMissingReference)
}

func (e *ReferenceError) Is(target error) bool {
	return target == ErrMissingReference
}

// errStopScan ends a scan early without reporting an error.
var errStopScan = errors.New("stop scan")

// entityPtr constrains P to be *T and a domain.Entity.
type entityPtr[T any] interface {
	*T
	domain.Entity
}

// Repository stores one entity type.
//
// # Description
//
// String IDs from callers are coerced to uint64 (ErrInvalidID on failure)
// and back, so records look the same as those from the remote API.
// Relation includes are resolved on every read; foreign keys are checked
// on every write; deletes are refused while referenced.
//
// # Thread Safety
//
// Safe for concurrent use. Each operation runs in one badger transaction.
type Repository[T any, P entityPtr[T]] struct {
	db     *DB
	entity string
	prefix []byte
	seq    *badger.Sequence

	include   func(txn *badger.Txn, rec P) error
	parents   func(txn *badger.Txn, rec P) error
	referrers []func(txn *badger.Txn, id string) (bool, error)
}

func newRepository[T any, P entityPtr[T]](db *DB, entity string) (*Repository[T, P], error) {
	seq, err := db.GetSequence([]byte("seq/"+entity), 100)
	if err != nil {
		return nil, fmt.Errorf("open %s sequence: %w", entity, err)
	}
	return &Repository[T, P]{
		db:     db,
		entity: entity,
		prefix: []byte(entity + "/"),
		seq:    seq,
	}, nil
}

// Entity returns the key prefix name, e.g. "teams".
func (r *Repository[T, P]) Entity() string {
	return r.entity
}

func (r *Repository[T, P]) key(id uint64) []byte {
	k := make([]byte, len(r.prefix)+8)
	copy(k, r.prefix)
	binary.BigEndian.PutUint64(k[len(r.prefix):], id)
	return k
}

// =============================================================================
// Operations
// =============================================================================

// Create validates rec, assigns a new ID and stores it.
func (r *Repository[T, P]) Create(ctx context.Context, rec T) (T, error) {
	var zero T
	if err := validation.Value(rec); err != nil {
		return zero, fmt.Errorf("create %s: %w", r.entity, err)
	}
	n, err := r.seq.Next()
	if err != nil {
		return zero, fmt.Errorf("allocate %s id: %w", r.entity, err)
	}
	id := n + 1

	P(&rec).SetID(validation.FormatID(id))
	if err := r.write(ctx, id, &rec); err != nil {
		return zero, fmt.Errorf("create %s: %w", r.entity, err)
	}
	return r.Get(ctx, P(&rec).GetID())
}

// List returns all records in ID order, with includes. Never nil.
func (r *Repository[T, P]) List(ctx context.Context) ([]T, error) {
	out := make([]T, 0)
	err := r.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return r.scan(txn, func(rec P) error {
			if r.include != nil {
				if err := r.include(txn, rec); err != nil {
					return err
				}
			}
			out = append(out, *rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.entity, err)
	}
	return out, nil
}

// Get returns the record with id, with includes.
func (r *Repository[T, P]) Get(ctx context.Context, id string) (T, error) {
	var out T
	n, err := validation.NumericID(id)
	if err != nil {
		return out, fmt.Errorf("%s %q: %w", r.entity, id, ErrInvalidID)
	}
	err = r.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		rec, err := r.get(txn, n)
		if err != nil {
			return err
		}
		if r.include != nil {
			if err := r.include(txn, rec); err != nil {
				return err
			}
		}
		out = *rec
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("get %s %s: %w", r.entity, id, err)
	}
	return out, nil
}

// Update replaces the record with id. The ID inside rec is ignored.
func (r *Repository[T, P]) Update(ctx context.Context, id string, rec T) (T, error) {
	var zero T
	n, err := validation.NumericID(id)
	if err != nil {
		return zero, fmt.Errorf("%s %q: %w", r.entity, id, ErrInvalidID)
	}
	P(&rec).SetID(validation.FormatID(n))
	if err := validation.Value(rec); err != nil {
		return zero, fmt.Errorf("update %s: %w", r.entity, err)
	}

	err = r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(r.key(n)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return r.put(txn, n, &rec)
	})
	if err != nil {
		return zero, fmt.Errorf("update %s %s: %w", r.entity, id, err)
	}
	return r.Get(ctx, id)
}

// Delete removes the record with id. ErrInUse if another record refers
// to it.
func (r *Repository[T, P]) Delete(ctx context.Context, id string) error {
	n, err := validation.NumericID(id)
	if err != nil {
		return fmt.Errorf("%s %q: %w", r.entity, id, ErrInvalidID)
	}
	canonical := validation.FormatID(n)

	err = r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(r.key(n)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		for _, referenced := range r.referrers {
			used, err := referenced(txn, canonical)
			if err != nil {
				return err
			}
			if used {
				return ErrInUse
			}
		}
		return txn.Delete(r.key(n))
	})
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", r.entity, id, err)
	}
	return nil
}

// =============================================================================
// Transaction Helpers
// =============================================================================

func (r *Repository[T, P]) write(ctx context.Context, id uint64, rec P) error {
	return r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return r.put(txn, id, rec)
	})
}

func (r *Repository[T, P]) put(txn *badger.Txn, id uint64, rec P) error {
	if c, ok := any(rec).(interface{ ClearIncludes() }); ok {
		c.ClearIncludes()
	}
	if r.parents != nil {
		if err := r.parents(txn, rec); err != nil {
			return err
		}
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(r.key(id), raw)
}

func (r *Repository[T, P]) get(txn *badger.Txn, id uint64) (P, error) {
	item, err := txn.Get(r.key(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec := P(new(T))
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, rec)
	}); err != nil {
		return nil, fmt.Errorf("decode %s: %w", r.entity, err)
	}
	return rec, nil
}

// lookup resolves a string foreign key inside txn. A malformed or
// dangling key yields ErrNotFound.
func (r *Repository[T, P]) lookup(txn *badger.Txn, id string) (P, error) {
	n, err := validation.NumericID(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return r.get(txn, n)
}

func (r *Repository[T, P]) scan(txn *badger.Txn, fn func(P) error) error {
	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: r.prefix})
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		rec := P(new(T))
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, rec)
		}); err != nil {
			return fmt.Errorf("decode %s: %w", r.entity, err)
		}
		if err := fn(rec); err != nil {
			if errors.Is(err, errStopScan) {
				return nil
			}
			return err
		}
	}
	return nil
}

// =============================================================================
// Relation Helpers
// =============================================================================

// includeOne resolves a foreign key into an include. Dangling keys leave
// the include nil.
func includeOne[T any, P entityPtr[T]](txn *badger.Txn, parent *Repository[T, P], id string, set func(P)) error {
	if id == "" {
		return nil
	}
	rec, err := parent.lookup(txn, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	set(rec)
	return nil
}

// requireOne fails with ErrMissingReference when id names no record in
// parent.
func requireOne[T any, P entityPtr[T]](txn *badger.Txn, parent *Repository[T, P], id string) error {
	_, err := parent.lookup(txn, id)
	if errors.Is(err, ErrNotFound) {
		return &ReferenceError{Entity: parent.entity, ID: id}
	}
	return err
}

// referencedBy reports whether any child record's foreign key equals id.
func referencedBy[T any, P entityPtr[T]](child *Repository[T, P], fk func(P) string) func(*badger.Txn, string) (bool, error) {
	return func(txn *badger.Txn, id string) (bool, error) {
		found := false
		err := child.scan(txn, func(rec P) error {
			if fk(rec) == id {
				found = true
				return errStopScan
			}
			return nil
		})
		return found, err
	}
}
