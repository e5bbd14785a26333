// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resources

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/FieldOps/pkg/apierr"
	"github.com/AleutianAI/FieldOps/services/edge/client"
	"github.com/AleutianAI/FieldOps/services/edge/domain"
	"github.com/AleutianAI/FieldOps/services/edge/mode"
	"github.com/AleutianAI/FieldOps/services/edge/observability"
	"github.com/AleutianAI/FieldOps/services/edge/store"
	"github.com/AleutianAI/FieldOps/services/edge/viewcache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// External Mode
// =============================================================================

type fakeBackend struct {
	listHits atomic.Int32
	denied   atomic.Int32
	teams    []domain.Team
	// reject is a bearer token the backend answers with 401.
	reject string
}

func (f *fakeBackend) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if f.reject != "" && r.Header.Get("Authorization") == "Bearer "+f.reject {
			f.denied.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"success":false,"error":{"message":"Unauthorized"}}`)
			return
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/teams":
			f.listHits.Add(1)
			json.NewEncoder(w).Encode(map[string]any{"success": true, "data": f.teams})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/teams":
			var in domain.Team
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			if in.Name == "Duplicate" {
				io.WriteString(w, `{"success":false,"error":{"code":"E_DUP","message":"Team name already exists"}}`)
				return
			}
			in.ID = "10"
			f.teams = append(f.teams, in)
			json.NewEncoder(w).Encode(map[string]any{"success": true, "data": in})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/teams/1":
			io.WriteString(w, `{"success":true,"data":{"id":"1","name":"Crew 1","operationCenterId":"1","operationCenter":{"id":"1","name":"North"}}}`)
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/v1/teams/"):
			io.WriteString(w, `{"success":true}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"success":false,"error":{"message":"Not found"}}`)
		}
	}
}

func externalTeams(t *testing.T) (*Module[domain.Team], *fakeBackend, *viewcache.Memory, *observability.Metrics) {
	t.Helper()
	fb := &fakeBackend{teams: []domain.Team{{ID: "1", Name: "Crew 1", OperationCenterID: "1"}}}
	srv := httptest.NewServer(fb.handler(t))
	t.Cleanup(srv.Close)

	mem := viewcache.NewMemory(time.Minute)
	m := observability.NewMetrics(prometheus.NewRegistry())
	mod := NewModule(Config[domain.Team]{
		Name:    Teams,
		Path:    BackendPath(Teams),
		Mode:    mode.New(true),
		Remote:  client.New(srv.URL),
		Cache:   viewcache.NewLoader(mem, m),
		Metrics: m,
	})
	return mod, fb, mem, m
}

func serviceKey(key string) string {
	return viewcache.ScopedKey(key, serviceScope)
}

func TestExternal_MutationInvalidatesListBeforeReturn(t *testing.T) {
	ctx := context.Background()
	mod, fb, mem, _ := externalTeams(t)

	res := mod.GetAll(ctx)
	require.True(t, res.Success)
	require.Len(t, res.Data, 1)
	mod.GetAll(ctx)
	assert.Equal(t, int32(1), fb.listHits.Load(), "second read served from cache")

	_, err := mem.Get(ctx, serviceKey(viewcache.ListKey(Teams)))
	require.NoError(t, err)

	created := mod.Create(ctx, domain.Team{Name: "Crew 2", OperationCenterID: "1"})
	require.True(t, created.Success, created.Error)
	assert.Equal(t, "10", created.Data.ID)

	_, err = mem.Get(ctx, serviceKey(viewcache.ListKey(Teams)))
	assert.ErrorIs(t, err, viewcache.ErrMiss, "list key invalidated by the time Create returns")

	res = mod.GetAll(ctx)
	require.True(t, res.Success)
	assert.Len(t, res.Data, 2)
	assert.Equal(t, int32(2), fb.listHits.Load())
}

func TestExternal_CachedViewsAreScopedToCredential(t *testing.T) {
	mod, fb, mem, _ := externalTeams(t)
	fb.reject = "forged"
	good := client.ContextWithToken(context.Background(), "good")
	forged := client.ContextWithToken(context.Background(), "forged")

	require.True(t, mod.GetAll(good).Success)
	require.True(t, mod.GetByID(good, "1").Success)

	list := mod.GetAll(forged)
	assert.False(t, list.Success, "a rejected credential must not be served another caller's view")
	assert.Nil(t, list.Data)
	assert.False(t, mod.GetByID(forged, "1").Success)
	assert.Equal(t, int32(2), fb.denied.Load(), "both reads reached the backend")

	require.True(t, mod.GetAll(good).Success)
	assert.Equal(t, int32(1), fb.listHits.Load(), "the accepted caller is still served from its own entry")

	goodList := mod.cacheKey(good, viewcache.ListKey(Teams))
	assert.NotEqual(t, goodList, mod.cacheKey(forged, viewcache.ListKey(Teams)))
	assert.NotContains(t, goodList, "good", "raw credentials never appear in keys")

	require.True(t, mod.Delete(good, "1").Success)
	for _, key := range []string{goodList, mod.cacheKey(good, viewcache.ItemKey(Teams, "1"))} {
		_, err := mem.Get(context.Background(), key)
		assert.ErrorIs(t, err, viewcache.ErrMiss, key)
	}
}

func TestExternal_GetByIDUnwrapped(t *testing.T) {
	mod, _, _, _ := externalTeams(t)

	res := mod.GetByID(context.Background(), "1")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Crew 1", res.Data.Name)
	require.NotNil(t, res.Data.OperationCenter)
	assert.Equal(t, "North", res.Data.OperationCenter.Name)
}

func TestExternal_FailuresBecomeResults(t *testing.T) {
	ctx := context.Background()
	mod, _, _, m := externalTeams(t)

	res := mod.Create(ctx, domain.Team{Name: "Duplicate", OperationCenterID: "1"})
	assert.False(t, res.Success)
	assert.Equal(t, "Team name already exists", res.Error)

	res = mod.GetByID(ctx, "404")
	assert.False(t, res.Success)
	assert.Equal(t, "Not found", res.Error)

	res = mod.GetByID(ctx, "../admin")
	assert.False(t, res.Success)
	assert.Equal(t, "Invalid id", res.Error)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActionResultsTotal.WithLabelValues(Teams, "create", "external", "error")))
}

func TestExternal_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	mod := NewModule(Config[domain.JobType]{
		Name:   JobTypes,
		Path:   BackendPath(JobTypes),
		Mode:   mode.New(true),
		Remote: client.New(base),
	})

	res := mod.GetAll(context.Background())
	assert.False(t, res.Success)
	assert.Equal(t, apierr.MsgConnectionRefused, res.Error)
}

func TestExternal_DeleteInvalidatesItem(t *testing.T) {
	ctx := context.Background()
	mod, _, mem, _ := externalTeams(t)

	require.True(t, mod.GetByID(ctx, "1").Success)
	_, err := mem.Get(ctx, serviceKey(viewcache.ItemKey(Teams, "1")))
	require.NoError(t, err)

	res := mod.Delete(ctx, "1")
	require.True(t, res.Success, res.Error)
	_, err = mem.Get(ctx, serviceKey(viewcache.ItemKey(Teams, "1")))
	assert.ErrorIs(t, err, viewcache.ErrMiss)
}

// =============================================================================
// Local Mode
// =============================================================================

func localSet(t *testing.T) (*Set, *viewcache.Memory) {
	t.Helper()
	s, err := store.Open(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	mem := viewcache.NewMemory(time.Minute)
	return NewSet(Deps{
		Mode:  mode.New(false),
		Store: s,
		Cache: viewcache.NewLoader(mem, nil),
	}), mem
}

func TestLocal_CRUDWithIDCoercion(t *testing.T) {
	ctx := context.Background()
	set, _ := localSet(t)

	oc := set.OperationCenters.Create(ctx, domain.OperationCenter{Name: "North"})
	require.True(t, oc.Success, oc.Error)
	assert.Equal(t, "1", oc.Data.ID)

	team := set.Teams.Create(ctx, domain.Team{Name: "Crew", OperationCenterID: oc.Data.ID})
	require.True(t, team.Success, team.Error)

	got := set.Teams.GetByID(ctx, team.Data.ID)
	require.True(t, got.Success, got.Error)
	require.NotNil(t, got.Data.OperationCenter)
	assert.Equal(t, "North", got.Data.OperationCenter.Name)

	assert.Equal(t, "Invalid id", set.Teams.GetByID(ctx, "abc").Error)
	assert.Equal(t, "Not found", set.Teams.GetByID(ctx, "99").Error)

	updated := set.Teams.Update(ctx, team.Data.ID, domain.Team{Name: "Crew A", OperationCenterID: oc.Data.ID})
	require.True(t, updated.Success, updated.Error)
	assert.Equal(t, "Crew A", set.Teams.GetByID(ctx, team.Data.ID).Data.Name)

	del := set.OperationCenters.Delete(ctx, oc.Data.ID)
	assert.False(t, del.Success)
	assert.Contains(t, del.Error, "referenced")

	require.True(t, set.Teams.Delete(ctx, team.Data.ID).Success)
	require.True(t, set.OperationCenters.Delete(ctx, oc.Data.ID).Success)

	list := set.Teams.GetAll(ctx)
	require.True(t, list.Success)
	assert.NotNil(t, list.Data)
	assert.Empty(t, list.Data)
}

func TestLocal_ParentMutationInvalidatesDependentViews(t *testing.T) {
	ctx := context.Background()
	set, mem := localSet(t)

	oc := set.OperationCenters.Create(ctx, domain.OperationCenter{Name: "North"})
	team := set.Teams.Create(ctx, domain.Team{Name: "Crew", OperationCenterID: oc.Data.ID})
	require.True(t, set.Teams.GetAll(ctx).Success)
	require.True(t, set.Teams.GetByID(ctx, team.Data.ID).Success)

	require.True(t, set.OperationCenters.Update(ctx, oc.Data.ID, domain.OperationCenter{Name: "North-East"}).Success)

	for _, key := range []string{viewcache.ListKey(Teams), viewcache.ItemKey(Teams, team.Data.ID)} {
		_, err := mem.Get(ctx, key)
		assert.ErrorIs(t, err, viewcache.ErrMiss, key)
	}
	assert.Equal(t, "North-East", set.Teams.GetByID(ctx, team.Data.ID).Data.OperationCenter.Name)
}

func TestLocal_NonCanonicalIDSharesOneView(t *testing.T) {
	ctx := context.Background()
	set, mem := localSet(t)

	oc := set.OperationCenters.Create(ctx, domain.OperationCenter{Name: "North"})
	team := set.Teams.Create(ctx, domain.Team{Name: "Crew", OperationCenterID: oc.Data.ID})
	require.True(t, team.Success, team.Error)
	id := team.Data.ID

	got := set.Teams.GetByID(ctx, "0"+id)
	require.True(t, got.Success, got.Error)
	assert.Equal(t, id, got.Data.ID)
	_, err := mem.Get(ctx, viewcache.ItemKey(Teams, id))
	require.NoError(t, err, "cached under the canonical id")
	_, err = mem.Get(ctx, viewcache.ItemKey(Teams, "0"+id))
	assert.ErrorIs(t, err, viewcache.ErrMiss)

	require.True(t, set.Teams.Update(ctx, "00"+id, domain.Team{Name: "Crew A", OperationCenterID: oc.Data.ID}).Success)
	assert.Equal(t, "Crew A", set.Teams.GetByID(ctx, "0"+id).Data.Name)

	require.True(t, set.Teams.Delete(ctx, "0"+id).Success)
	assert.Equal(t, "Not found", set.Teams.GetByID(ctx, id).Error)
	assert.Equal(t, "Not found", set.Teams.GetByID(ctx, "00"+id).Error)
	assert.Equal(t, "Invalid id", set.Teams.GetByID(ctx, "0").Error)
}

func TestLocal_MissingReference(t *testing.T) {
	set, _ := localSet(t)
	res := set.Stations.Create(context.Background(), domain.Station{Name: "Sub", OperationCenterID: "7"})
	assert.False(t, res.Success)
	assert.Equal(t, `Referenced operation-centers 7 does not exist`, res.Error)
}

func TestLocal_ValidationMessage(t *testing.T) {
	set, _ := localSet(t)
	res := set.Tasks.Create(context.Background(), domain.Task{Date: "yesterday", Latitude: 200})
	assert.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Error, "Validation failed: "), res.Error)
}

func TestLocal_NoStore(t *testing.T) {
	set := NewSet(Deps{Mode: mode.New(false)})
	res := set.JobTypes.GetAll(context.Background())
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

// =============================================================================
// Shape Tests
// =============================================================================

func TestBothModesReturnSameShape(t *testing.T) {
	ctx := context.Background()

	set, _ := localSet(t)
	oc := set.OperationCenters.Create(ctx, domain.OperationCenter{Name: "North"})
	set.Teams.Create(ctx, domain.Team{Name: "Crew 1", OperationCenterID: oc.Data.ID})
	local := set.Teams.GetByID(ctx, "1")

	mod, _, _, _ := externalTeams(t)
	remote := mod.GetByID(ctx, "1")

	lj, err := json.Marshal(local)
	require.NoError(t, err)
	rj, err := json.Marshal(remote)
	require.NoError(t, err)
	assert.JSONEq(t, string(rj), string(lj))
}

func TestResultJSON(t *testing.T) {
	raw, err := json.Marshal(failed[domain.Team]("boom"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"boom"}`, string(raw))

	raw, err = json.Marshal(Result[any]{Success: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true}`, string(raw))

	raw, err = json.Marshal(ok([]domain.JobType{}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"data":[]}`, string(raw))
}
