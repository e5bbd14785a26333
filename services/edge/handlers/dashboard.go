// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/FieldOps/pkg/apierr"
	"github.com/AleutianAI/FieldOps/services/edge/dashboard"
	"github.com/AleutianAI/FieldOps/services/edge/middleware"
	"github.com/AleutianAI/FieldOps/services/edge/mode"
)

// Dashboard serves the yearly dashboard view.
//
// # Description
//
// ?year defaults to the current year. An expired session redirects to
// the login page. Sections that could not be fetched are null and named
// in "unavailable".
func Dashboard(svc *dashboard.Service, now func() time.Time) gin.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(c *gin.Context) {
		year := now().Year()
		if raw := c.Query("year"); raw != "" {
			y, err := strconv.Atoi(raw)
			if err != nil || y < 1900 || y > 9999 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid year"})
				return
			}
			year = y
		}

		view, err := svc.Load(c.Request.Context(), c.Request, year)
		if apierr.IsUnauthorized(err) {
			middleware.Logger(c).Info("dashboard session expired, redirecting to login")
			middleware.RedirectToLogin(c)
			return
		}
		if err != nil {
			middleware.Logger(c).Error("dashboard load failed", "year", year, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": apierr.MessageOf(err)})
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// HealthCheck reports liveness and the active data-source mode.
func HealthCheck(sel mode.Selector) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": sel.String()})
	}
}

// Login is the placeholder target of guard redirects. The login UI is
// served elsewhere; this only tells the caller where it was headed.
func Login(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"error": "Authentication required",
		"next":  c.Query("next"),
	})
}
