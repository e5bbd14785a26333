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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/FieldOps/services/edge/middleware"
	"github.com/AleutianAI/FieldOps/services/edge/observability"
	"github.com/AleutianAI/FieldOps/services/edge/resources"
	"github.com/AleutianAI/FieldOps/services/edge/uploads"
)

// multipartOverhead is the slack allowed on top of the file limit for
// multipart boundaries and part headers.
const multipartOverhead = 1 << 20

// UploadImage stores the multipart "file" part as a task image.
//
// # Outputs
//
//   - 201 with the result shape and the stored image on success.
//   - 400 missing or empty file, 413 too large, 415 not an image,
//     502 storage failure, 503 uploads not configured.
func UploadImage(svc *uploads.Service, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if svc == nil {
			c.JSON(http.StatusServiceUnavailable, resources.Result[any]{Error: "Uploads are not configured"})
			return
		}
		logger := middleware.Logger(c)

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, svc.MaxBytes()+multipartOverhead)
		fh, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				metrics.RecordUpload(false)
				c.JSON(http.StatusRequestEntityTooLarge, resources.Result[any]{Error: "File is too large"})
				return
			}
			c.JSON(http.StatusBadRequest, resources.Result[any]{Error: "Missing file"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, resources.Result[any]{Error: "Missing file"})
			return
		}
		defer f.Close()

		up, err := svc.Upload(c.Request.Context(), fh.Filename, fh.Header.Get("Content-Type"), f)
		metrics.RecordUpload(err == nil)
		if err != nil {
			status := http.StatusBadGateway
			msg := "Failed to store file"
			switch {
			case errors.Is(err, uploads.ErrUnsupportedType):
				status, msg = http.StatusUnsupportedMediaType, "Only image files are accepted"
			case errors.Is(err, uploads.ErrTooLarge):
				status, msg = http.StatusRequestEntityTooLarge, "File is too large"
			case errors.Is(err, uploads.ErrEmpty):
				status, msg = http.StatusBadRequest, "File is empty"
			default:
				logger.Error("image upload failed", "filename", fh.Filename, "error", err)
			}
			c.JSON(status, resources.Result[any]{Error: msg})
			return
		}

		logger.Info("image uploaded", "key", up.Key, "size", up.Size)
		c.JSON(http.StatusCreated, resources.Result[uploads.Uploaded]{Success: true, Data: up})
	}
}
