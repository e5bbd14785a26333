// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers holds the gin handlers of the edge service.
//
// Resource actions always answer with the action result shape
// {"success", "data", "error"}. A failed action is still a completed
// call, so failures carry 200 unless the request itself was malformed.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/FieldOps/services/edge/middleware"
	"github.com/AleutianAI/FieldOps/services/edge/resources"
)

// RegisterResource mounts the five actions of m under g:
//
//	GET    /<resource>       GetAll
//	POST   /<resource>       Create
//	GET    /<resource>/:id   GetByID
//	PUT    /<resource>/:id   Update
//	DELETE /<resource>/:id   Delete
func RegisterResource[T any](g *gin.RouterGroup, m *resources.Module[T]) {
	rg := g.Group("/" + m.Name())
	rg.GET("", ListResource(m))
	rg.POST("", CreateResource(m))
	rg.GET("/:id", GetResource(m))
	rg.PUT("/:id", UpdateResource(m))
	rg.DELETE("/:id", DeleteResource(m))
}

// ListResource returns every record of m.
func ListResource[T any](m *resources.Module[T]) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, m.GetAll(c.Request.Context()))
	}
}

// GetResource returns one record of m.
func GetResource[T any](m *resources.Module[T]) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, m.GetByID(c.Request.Context(), c.Param("id")))
	}
}

// CreateResource decodes a record from the body and creates it.
func CreateResource[T any](m *resources.Module[T]) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in T
		if err := c.ShouldBindJSON(&in); err != nil {
			middleware.Logger(c).Info("invalid request body", "resource", m.Name(), "error", err)
			c.JSON(http.StatusBadRequest, resources.Result[any]{Error: "Invalid request body"})
			return
		}
		res := m.Create(c.Request.Context(), in)
		status := http.StatusOK
		if res.Success {
			status = http.StatusCreated
		}
		c.JSON(status, res)
	}
}

// UpdateResource decodes a record from the body and replaces record :id.
func UpdateResource[T any](m *resources.Module[T]) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in T
		if err := c.ShouldBindJSON(&in); err != nil {
			middleware.Logger(c).Info("invalid request body", "resource", m.Name(), "error", err)
			c.JSON(http.StatusBadRequest, resources.Result[any]{Error: "Invalid request body"})
			return
		}
		c.JSON(http.StatusOK, m.Update(c.Request.Context(), c.Param("id"), in))
	}
}

// DeleteResource removes record :id.
func DeleteResource[T any](m *resources.Module[T]) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, m.Delete(c.Request.Context(), c.Param("id")))
	}
}
