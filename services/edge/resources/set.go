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
	"log/slog"

	"github.com/AleutianAI/FieldOps/services/edge/client"
	"github.com/AleutianAI/FieldOps/services/edge/domain"
	"github.com/AleutianAI/FieldOps/services/edge/mode"
	"github.com/AleutianAI/FieldOps/services/edge/observability"
	"github.com/AleutianAI/FieldOps/services/edge/store"
	"github.com/AleutianAI/FieldOps/services/edge/viewcache"
)

// Resource names, shared by routes, cache keys and backend paths.
const (
	OperationCenters = "operation-centers"
	Teams            = "teams"
	Stations         = "stations"
	Feeders          = "feeders"
	JobTypes         = "job-types"
	Tasks            = "tasks"
)

// dependents lists, per resource, the resources whose views embed it.
var dependents = map[string][]string{
	OperationCenters: {Teams, Stations},
	Stations:         {Feeders},
	Feeders:          {Tasks},
	JobTypes:         {Tasks},
	Teams:            {Tasks},
}

// BackendPath returns the REST collection path of resource.
func BackendPath(resource string) string {
	return "/v1/" + resource
}

// Deps are the collaborators shared by every module.
type Deps struct {
	Mode    mode.Selector
	Store   *store.Store
	Client  *client.Client
	Cache   *viewcache.Loader
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Set holds one Module per entity.
type Set struct {
	OperationCenters *Module[domain.OperationCenter]
	Teams            *Module[domain.Team]
	Stations         *Module[domain.Station]
	Feeders          *Module[domain.Feeder]
	JobTypes         *Module[domain.JobType]
	Tasks            *Module[domain.Task]
}

// NewSet builds every module over d. d.Store may be nil in external mode.
func NewSet(d Deps) *Set {
	return &Set{
		OperationCenters: build(d, OperationCenters, localOf(d.Store, func(s *store.Store) LocalSource[domain.OperationCenter] { return s.OperationCenters })),
		Teams:            build(d, Teams, localOf(d.Store, func(s *store.Store) LocalSource[domain.Team] { return s.Teams })),
		Stations:         build(d, Stations, localOf(d.Store, func(s *store.Store) LocalSource[domain.Station] { return s.Stations })),
		Feeders:          build(d, Feeders, localOf(d.Store, func(s *store.Store) LocalSource[domain.Feeder] { return s.Feeders })),
		JobTypes:         build(d, JobTypes, localOf(d.Store, func(s *store.Store) LocalSource[domain.JobType] { return s.JobTypes })),
		Tasks:            build(d, Tasks, localOf(d.Store, func(s *store.Store) LocalSource[domain.Task] { return s.Tasks })),
	}
}

func build[T any](d Deps, name string, local LocalSource[T]) *Module[T] {
	return NewModule(Config[T]{
		Name:       name,
		Path:       BackendPath(name),
		Mode:       d.Mode,
		Local:      local,
		Remote:     d.Client,
		Cache:      d.Cache,
		Dependents: dependents[name],
		Metrics:    d.Metrics,
		Logger:     d.Logger,
	})
}

// localOf avoids storing a typed nil in the LocalSource interface when
// there is no store.
func localOf[T any](s *store.Store, pick func(*store.Store) LocalSource[T]) LocalSource[T] {
	if s == nil {
		return nil
	}
	return pick(s)
}
