// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resources implements the resource actions used by the UI to
// manage field-operations entities.
//
// # Description
//
// One generic Module serves every entity. Each action branches on the
// mode selector: in external mode it calls the backend REST path through
// the outbound client, in local mode it uses the local store. Both
// branches return identical shapes with string IDs.
//
// Actions never return Go errors. Every failure is converted to a Result
// with Success=false and a user-presentable message.
//
// Every successful mutation invalidates every cached view of its own
// resource and of each dependent resource before it returns. In external
// mode cached views are keyed by a digest of the caller's credential, since
// the backend decides what each caller may read.
package resources

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/FieldOps/pkg/apierr"
	"github.com/AleutianAI/FieldOps/pkg/validation"
	"github.com/AleutianAI/FieldOps/services/edge/client"
	"github.com/AleutianAI/FieldOps/services/edge/mode"
	"github.com/AleutianAI/FieldOps/services/edge/observability"
	"github.com/AleutianAI/FieldOps/services/edge/store"
	"github.com/AleutianAI/FieldOps/services/edge/viewcache"
)

// =============================================================================
// Result
// =============================================================================

// Result is what every action returns to the UI. It is distinct from the
// backend wire envelope: Error is a plain string.
type Result[D any] struct {
	Success bool
	Data    D
	Error   string
}

// MarshalJSON omits data on failure.
func (r Result[D]) MarshalJSON() ([]byte, error) {
	type wire struct {
		Success bool   `json:"success"`
		Data    any    `json:"data,omitempty"`
		Error   string `json:"error,omitempty"`
	}
	w := wire{Success: r.Success, Error: r.Error}
	if r.Success {
		w.Data = r.Data
	}
	return json.Marshal(w)
}

func ok[D any](d D) Result[D] {
	return Result[D]{Success: true, Data: d}
}

func failed[D any](msg string) Result[D] {
	if msg == "" {
		msg = apierr.MsgFallback
	}
	return Result[D]{Error: msg}
}

// =============================================================================
// Module
// =============================================================================

// LocalSource is the local-store side of a resource. *store.Repository
// satisfies it.
type LocalSource[T any] interface {
	Create(ctx context.Context, rec T) (T, error)
	List(ctx context.Context) ([]T, error)
	Get(ctx context.Context, id string) (T, error)
	Update(ctx context.Context, id string, rec T) (T, error)
	Delete(ctx context.Context, id string) error
}

// Config wires one Module.
type Config[T any] struct {
	// Name is the resource name used in routes and cache keys, e.g. "teams".
	Name string

	// Path is the backend REST collection path, e.g. "/v1/teams".
	Path string

	Mode   mode.Selector
	Local  LocalSource[T]
	Remote *client.Client
	Cache  *viewcache.Loader

	// Dependents are resources whose views embed this one.
	Dependents []string

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Module implements create, getAll, getById, update and delete for T.
//
// # Thread Safety
//
// Safe for concurrent use.
type Module[T any] struct {
	cfg Config[T]
}

// NewModule creates a Module. A nil Cache disables caching.
func NewModule[T any](cfg Config[T]) *Module[T] {
	if cfg.Cache == nil {
		cfg.Cache = viewcache.NewLoader(nil, cfg.Metrics)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Path = "/" + strings.Trim(cfg.Path, "/")
	return &Module[T]{cfg: cfg}
}

// Name returns the resource name.
func (m *Module[T]) Name() string {
	return m.cfg.Name
}

// Create stores a new record.
func (m *Module[T]) Create(ctx context.Context, in T) Result[T] {
	if err := validation.Value(in); err != nil {
		return m.fail(ctx, "create", err)
	}

	var out T
	var err error
	if m.cfg.Mode.IsExternalMode() {
		out, err = client.Post[T](ctx, m.cfg.Remote, m.cfg.Path, in)
	} else if m.cfg.Local != nil {
		out, err = m.cfg.Local.Create(ctx, in)
	} else {
		err = errNoLocalStore
	}
	if err != nil {
		return m.fail(ctx, "create", err)
	}

	m.invalidate(ctx)
	m.record("create", true)
	return ok(out)
}

// GetAll returns every record. Results are served from the view cache
// when present.
func (m *Module[T]) GetAll(ctx context.Context) Result[[]T] {
	raw, err := m.cfg.Cache.Load(ctx, m.cacheKey(ctx, viewcache.ListKey(m.cfg.Name)), func(ctx context.Context) ([]byte, error) {
		var list []T
		var err error
		if m.cfg.Mode.IsExternalMode() {
			list, err = client.Get[[]T](ctx, m.cfg.Remote, m.cfg.Path, nil)
		} else if m.cfg.Local != nil {
			list, err = m.cfg.Local.List(ctx)
		} else {
			err = errNoLocalStore
		}
		if err != nil {
			return nil, err
		}
		if list == nil {
			list = []T{}
		}
		return json.Marshal(list)
	})
	if err != nil {
		return failed[[]T](m.message(ctx, "list", err))
	}

	var list []T
	if err := json.Unmarshal(raw, &list); err != nil {
		return failed[[]T](m.message(ctx, "list", err))
	}
	m.record("list", true)
	return ok(list)
}

// GetByID returns one record.
func (m *Module[T]) GetByID(ctx context.Context, id string) Result[T] {
	id, err := m.canonicalID(id)
	if err != nil {
		return m.fail(ctx, "get", err)
	}

	raw, err := m.cfg.Cache.Load(ctx, m.cacheKey(ctx, viewcache.ItemKey(m.cfg.Name, id)), func(ctx context.Context) ([]byte, error) {
		var rec T
		var err error
		if m.cfg.Mode.IsExternalMode() {
			rec, err = client.Get[T](ctx, m.cfg.Remote, m.itemPath(id), nil)
		} else if m.cfg.Local != nil {
			rec, err = m.cfg.Local.Get(ctx, id)
		} else {
			err = errNoLocalStore
		}
		if err != nil {
			return nil, err
		}
		return json.Marshal(rec)
	})
	if err != nil {
		return m.fail(ctx, "get", err)
	}

	var rec T
	if err := json.Unmarshal(raw, &rec); err != nil {
		return m.fail(ctx, "get", err)
	}
	m.record("get", true)
	return ok(rec)
}

// Update replaces the record with id.
func (m *Module[T]) Update(ctx context.Context, id string, in T) Result[T] {
	id, err := m.canonicalID(id)
	if err != nil {
		return m.fail(ctx, "update", err)
	}
	if err := validation.Value(in); err != nil {
		return m.fail(ctx, "update", err)
	}

	var out T
	if m.cfg.Mode.IsExternalMode() {
		out, err = client.Put[T](ctx, m.cfg.Remote, m.itemPath(id), in)
	} else if m.cfg.Local != nil {
		out, err = m.cfg.Local.Update(ctx, id, in)
	} else {
		err = errNoLocalStore
	}
	if err != nil {
		return m.fail(ctx, "update", err)
	}

	m.invalidate(ctx)
	m.record("update", true)
	return ok(out)
}

// Delete removes the record with id.
func (m *Module[T]) Delete(ctx context.Context, id string) Result[any] {
	id, err := m.canonicalID(id)
	if err != nil {
		return failed[any](m.message(ctx, "delete", err))
	}

	if m.cfg.Mode.IsExternalMode() {
		err = client.Delete(ctx, m.cfg.Remote, m.itemPath(id))
	} else if m.cfg.Local != nil {
		err = m.cfg.Local.Delete(ctx, id)
	} else {
		err = errNoLocalStore
	}
	if err != nil {
		return failed[any](m.message(ctx, "delete", err))
	}

	m.invalidate(ctx)
	m.record("delete", true)
	return Result[any]{Success: true}
}

// =============================================================================
// Helpers
// =============================================================================

var (
	errNoLocalStore = errors.New("local store is not available")
	errInvalidID    = errors.New("invalid id")
)

func (m *Module[T]) itemPath(id string) string {
	return m.cfg.Path + "/" + id
}

// canonicalID validates id. In local mode it also rewrites id to the
// store's numeric spelling, so "01" and "1" name one record and one view.
func (m *Module[T]) canonicalID(id string) (string, error) {
	id, err := validation.SanitizeID(id)
	if err != nil {
		return "", errInvalidID
	}
	if m.cfg.Mode.IsExternalMode() {
		return id, nil
	}
	n, err := validation.NumericID(id)
	if err != nil {
		return "", errInvalidID
	}
	return validation.FormatID(n), nil
}

// serviceScope keys views read with the configured service credential.
const serviceScope = "service"

// cacheKey scopes key to the caller's credential in external mode. Local
// mode has a single shared view.
func (m *Module[T]) cacheKey(ctx context.Context, key string) string {
	if !m.cfg.Mode.IsExternalMode() {
		return key
	}
	token := client.TokenFromContext(ctx)
	if token == "" {
		return viewcache.ScopedKey(key, serviceScope)
	}
	sum := sha256.Sum256([]byte(token))
	return viewcache.ScopedKey(key, hex.EncodeToString(sum[:8]))
}

// invalidate drops every view of this resource and of each dependent, in
// every caller scope. Failures are logged; the mutation has already
// happened and is still reported as successful.
func (m *Module[T]) invalidate(ctx context.Context) {
	for _, name := range append([]string{m.cfg.Name}, m.cfg.Dependents...) {
		if err := m.cfg.Cache.InvalidatePrefix(ctx, viewcache.ResourcePrefix(name)); err != nil {
			m.cfg.Logger.Error("view cache invalidation failed",
				"resource", m.cfg.Name, "prefix", viewcache.ResourcePrefix(name), "error", err)
		}
	}
}

func (m *Module[T]) fail(ctx context.Context, op string, err error) Result[T] {
	return failed[T](m.message(ctx, op, err))
}

// message logs err and converts it to the text shown to the user.
func (m *Module[T]) message(ctx context.Context, op string, err error) string {
	m.record(op, false)
	msg := userMessage(err)
	m.cfg.Logger.WarnContext(ctx, "resource action failed",
		"resource", m.cfg.Name,
		"op", op,
		"mode", m.cfg.Mode.String(),
		"error", err)
	return msg
}

func (m *Module[T]) record(op string, success bool) {
	m.cfg.Metrics.RecordAction(m.cfg.Name, op, m.cfg.Mode.String(), success)
}

// userMessage maps local and remote failures to one message style.
func userMessage(err error) string {
	var ae *apierr.Error
	switch {
	case errors.As(err, &ae):
		return ae.Error()
	case errors.Is(err, store.ErrNotFound):
		return "Not found"
	case errors.Is(err, store.ErrInvalidID), errors.Is(err, errInvalidID):
		return "Invalid id"
	case errors.Is(err, store.ErrInUse):
		return "Cannot delete: record is referenced by other records"
	}
	var ref *store.ReferenceError
	if errors.As(err, &ref) {
		return fmt.Sprintf("Referenced %s %s does not exist", ref.Entity, ref.ID)
	}
	return validation.Describe(err)
}
