// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package uploads stores task images in object storage.
//
// Objects are written under tasks/YYYY/MM/<uuid><ext>. Only images are
// accepted: the declared content type and the sniffed content must both
// be image/*.
package uploads

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnsupportedType is returned for anything that is not an image.
	ErrUnsupportedType = errors.New("unsupported file type: only images are accepted")

	// ErrTooLarge is returned when the file exceeds the configured limit.
	ErrTooLarge = errors.New("file is too large")

	// ErrEmpty is returned for a zero-byte file.
	ErrEmpty = errors.New("file is empty")
)

// ObjectStore writes objects and returns their public URL.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) (string, error)
}

// Uploaded describes a stored image.
type Uploaded struct {
	URL         string `json:"url"`
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// Service validates and stores images.
type Service struct {
	store    ObjectStore
	maxBytes int64
	now      func() time.Time
	newID    func() string
}

// NewService creates a Service. maxBytes <= 0 means 10 MiB.
func NewService(store ObjectStore, maxBytes int64) *Service {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &Service{
		store:    store,
		maxBytes: maxBytes,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
}

// MaxBytes returns the per-file limit.
func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

// Upload stores one image.
//
// # Inputs
//
//   - filename: Client-side name, used only for its extension.
//   - declaredType: Content-Type of the multipart part. May be empty.
//   - r: File contents.
//
// # Outputs
//
//   - Uploaded: Where the image was stored.
//   - error: ErrUnsupportedType, ErrTooLarge, ErrEmpty, or a storage error.
func (s *Service) Upload(ctx context.Context, filename, declaredType string, r io.Reader) (Uploaded, error) {
	if declaredType != "" && !isImage(declaredType) {
		return Uploaded{}, ErrUnsupportedType
	}

	br := bufio.NewReaderSize(r, 512)
	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return Uploaded{}, fmt.Errorf("read upload: %w", err)
	}
	if len(head) == 0 {
		return Uploaded{}, ErrEmpty
	}
	sniffed := http.DetectContentType(head)
	if !isImage(sniffed) {
		return Uploaded{}, ErrUnsupportedType
	}

	key := s.objectKey(filename, sniffed)
	lr := &limitedReader{r: br, max: s.maxBytes}
	url, err := s.store.Put(ctx, key, sniffed, lr)
	if errors.Is(err, ErrTooLarge) {
		return Uploaded{}, ErrTooLarge
	}
	if err != nil {
		return Uploaded{}, fmt.Errorf("store %s: %w", key, err)
	}
	return Uploaded{URL: url, Key: key, ContentType: sniffed, Size: lr.n}, nil
}

// imageExts pins the extension for sniffable image types. The system
// mime table lists ".jfif" first for image/jpeg on some hosts.
var imageExts = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"image/bmp":  ".bmp",
}

func (s *Service) objectKey(filename, contentType string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" || len(ext) > 6 {
		ext = extensionFor(contentType)
	}
	now := s.now().UTC()
	return fmt.Sprintf("tasks/%04d/%02d/%s%s", now.Year(), int(now.Month()), s.newID(), ext)
}

func extensionFor(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if ext, ok := imageExts[mt]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mt); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

func isImage(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && strings.HasPrefix(mt, "image/")
}

// limitedReader fails with ErrTooLarge once more than max bytes have
// been read, so the object store aborts the write instead of committing
// a truncated object.
type limitedReader struct {
	r   io.Reader
	max int64
	n   int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.n += int64(n)
	if l.n > l.max {
		return n, ErrTooLarge
	}
	return n, err
}
