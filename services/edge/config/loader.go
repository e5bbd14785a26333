// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/FieldOps/pkg/validation"
	"gopkg.in/yaml.v3"
)

// Load reads the configuration for the edge service.
//
// # Description
//
// Starts from DefaultConfig, overlays the YAML file at path (a missing
// file is not an error), applies environment overrides and validates the
// result.
//
// # Inputs
//
//   - path: YAML file path. Empty skips the file.
//   - getenv: Environment lookup, normally os.Getenv. Injected for tests.
//
// # Outputs
//
//   - EdgeConfig: The effective configuration.
//   - error: Non-nil if the file is unreadable, malformed, an override
//     cannot be parsed, or validation fails.
func Load(path string, getenv func(string) string) (EdgeConfig, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// defaults + env only
		case err != nil:
			return cfg, fmt.Errorf("failed to read the config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse the config file %s: %w", path, err)
			}
		}
	}

	if getenv == nil {
		getenv = os.Getenv
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}

	cfg.Backend.BaseURL = strings.TrimRight(strings.Trim(cfg.Backend.BaseURL, "\"' "), "/")
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = 30 * time.Second
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks every field against its validate tag and cross-field
// rules that tags cannot express.
func (c EdgeConfig) Validate() error {
	if err := validation.Validator().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Cache.Backend == "redis" && c.Cache.Redis.Address == "" {
		return errors.New("invalid configuration: cache.redis.address is required when cache.backend is redis")
	}
	return nil
}

// WriteDefault writes DefaultConfig as YAML to path, creating parent
// directories. An existing file is left untouched.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *EdgeConfig, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	var errs []error
	integer := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	integer("FIELDOPS_PORT", &cfg.Server.Port)
	str("GIN_MODE", &cfg.Server.GinMode)
	str("FIELDOPS_BACKEND_URL", &cfg.Backend.BaseURL)
	duration("FIELDOPS_BACKEND_TIMEOUT", &cfg.Backend.Timeout)
	duration("FIELDOPS_PROXY_TIMEOUT", &cfg.Backend.ProxyTimeout)
	str("FIELDOPS_SESSION_COOKIE", &cfg.Backend.SessionCookie)
	str("FIELDOPS_API_TOKEN", &cfg.Backend.APIToken)
	boolean("FIELDOPS_EXTERNAL_MODE", &cfg.Mode.External)
	str("FIELDOPS_STORE_PATH", &cfg.Store.Path)
	str("FIELDOPS_CACHE_BACKEND", &cfg.Cache.Backend)
	str("FIELDOPS_REDIS_ADDR", &cfg.Cache.Redis.Address)
	str("FIELDOPS_REDIS_PASSWORD", &cfg.Cache.Redis.Password)
	str("FIELDOPS_UPLOAD_BUCKET", &cfg.Uploads.Bucket)
	str("FIELDOPS_GCP_PROJECT", &cfg.Uploads.ProjectID)
	str("GOOGLE_APPLICATION_CREDENTIALS", &cfg.Uploads.CredentialsFile)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	str("FIELDOPS_LOG_LEVEL", &cfg.Logging.Level)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment override: %w", errors.Join(errs...))
	}
	return nil
}
