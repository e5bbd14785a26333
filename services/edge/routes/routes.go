// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes mounts the HTTP surface of the edge service.
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/FieldOps/services/edge/dashboard"
	"github.com/AleutianAI/FieldOps/services/edge/handlers"
	"github.com/AleutianAI/FieldOps/services/edge/middleware"
	"github.com/AleutianAI/FieldOps/services/edge/mode"
	"github.com/AleutianAI/FieldOps/services/edge/observability"
	"github.com/AleutianAI/FieldOps/services/edge/proxy"
	"github.com/AleutianAI/FieldOps/services/edge/resources"
	"github.com/AleutianAI/FieldOps/services/edge/uploads"
)

// Deps are the handlers' collaborators. Uploads and MetricsHandler may be
// nil.
type Deps struct {
	Mode          mode.Selector
	SessionCookie string

	// ServiceToken is true when the outbound client carries its own API
	// token, so callers need no session for resource actions.
	ServiceToken bool

	Resources      *resources.Set
	Dashboard      *dashboard.Service
	Uploads        *uploads.Service
	Proxy          gin.HandlerFunc
	Metrics        *observability.Metrics
	MetricsHandler http.Handler
}

// SetupRoutes registers every route on router.
//
// # Description
//
//	GET  /health                      liveness and mode
//	GET  /metrics                     Prometheus (when enabled)
//	ANY  /api/*path                   reverse proxy
//	*    /actions/<resource>[/:id]    resource actions
//	GET  /dashboard                   dashboard (session required)
//	POST /uploads/images              image upload
//	GET  /login                       guard redirect target
//
// In external mode without a service token, cached views are shared
// across callers, so /actions and /uploads require a session credential.
func SetupRoutes(router *gin.Engine, d Deps) {
	router.GET("/health", handlers.HealthCheck(d.Mode))
	router.GET(middleware.LoginPath, handlers.Login)
	if d.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(d.MetricsHandler))
	}

	router.Match(proxy.Methods, "/api/*path", d.Proxy)

	guard := []gin.HandlerFunc{middleware.PropagateToken(d.SessionCookie)}
	if d.Mode.IsExternalMode() && !d.ServiceToken {
		guard = append(guard, middleware.RequireSession(d.SessionCookie))
	}

	actions := router.Group("/actions", guard...)
	{
		handlers.RegisterResource(actions, d.Resources.OperationCenters)
		handlers.RegisterResource(actions, d.Resources.Teams)
		handlers.RegisterResource(actions, d.Resources.Stations)
		handlers.RegisterResource(actions, d.Resources.Feeders)
		handlers.RegisterResource(actions, d.Resources.JobTypes)
		handlers.RegisterResource(actions, d.Resources.Tasks)
	}

	router.GET("/dashboard",
		middleware.RedirectWithoutSession(d.SessionCookie),
		handlers.Dashboard(d.Dashboard, nil))

	up := router.Group("/uploads", guard...)
	up.POST("/images", handlers.UploadImage(d.Uploads, d.Metrics))
}
