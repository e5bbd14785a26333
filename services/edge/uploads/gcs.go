// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package uploads

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSConfig configures a GCSStore.
type GCSConfig struct {
	Bucket    string
	ProjectID string

	// CredentialsFile is a service account key. Empty uses Application
	// Default Credentials.
	CredentialsFile string

	// PublicBaseURL prefixes object keys in returned URLs. Defaults to
	// https://storage.googleapis.com/<bucket>.
	PublicBaseURL string
}

// GCSStore writes objects to a Google Cloud Storage bucket.
type GCSStore struct {
	client     *storage.Client
	bucket     string
	publicBase string
	logger     *slog.Logger
}

// NewGCSStore creates the storage client.
func NewGCSStore(ctx context.Context, cfg GCSConfig, logger *slog.Logger) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("uploads: bucket is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.ProjectID != "" {
		opts = append(opts, option.WithQuotaProject(cfg.ProjectID))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GCSStore{
		client:     client,
		bucket:     cfg.Bucket,
		publicBase: publicBase(cfg),
		logger:     logger,
	}, nil
}

// Put streams r into the bucket under key. A read error aborts the
// upload without creating the object.
func (g *GCSStore) Put(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=31536000, immutable"

	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("failed to write GCS object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer for %s: %w", key, err)
	}
	g.logger.Info("uploaded task image", "bucket", g.bucket, "key", key)
	return g.publicBase + "/" + key, nil
}

// Close releases the storage client.
func (g *GCSStore) Close() error {
	return g.client.Close()
}

func publicBase(cfg GCSConfig) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	}
	return "https://storage.googleapis.com/" + url.PathEscape(cfg.Bucket)
}
