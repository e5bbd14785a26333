// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the configuration of the edge service.
//
// Configuration is read once by the composition root (a YAML file, then
// environment overrides, then defaults) and passed down explicitly. There
// is no package-level singleton.
package config

import "time"

// EdgeConfig is the root configuration document.
type EdgeConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Backend   BackendConfig   `yaml:"backend"`
	Mode      ModeConfig      `yaml:"mode"`
	Store     StoreConfig     `yaml:"store"`
	Cache     CacheConfig     `yaml:"cache"`
	Uploads   UploadsConfig   `yaml:"uploads"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port    int    `yaml:"port" validate:"min=1,max=65535"`
	GinMode string `yaml:"gin_mode" validate:"omitempty,oneof=debug release test"`
}

// BackendConfig describes the external field-operations API. BaseURL is
// shared by the reverse proxy, the server-side bridge and the outbound
// client so that all three always talk to the same host.
type BackendConfig struct {
	BaseURL string `yaml:"base_url" validate:"required,http_url"`

	// Timeout bounds every outbound client call. Default: 30s.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`

	// ProxyTimeout bounds forwarded proxy requests. 0 leaves it to the
	// transport.
	ProxyTimeout time.Duration `yaml:"proxy_timeout" validate:"gte=0"`

	// BridgeTimeout bounds server-side bridge fetches. 0 leaves it to the
	// transport.
	BridgeTimeout time.Duration `yaml:"bridge_timeout" validate:"gte=0"`

	// SessionCookie is the name of the HTTP-only session cookie.
	SessionCookie string `yaml:"session_cookie" validate:"required"`

	// APIToken is an optional service token attached by the outbound
	// client when the caller supplies none.
	APIToken string `yaml:"api_token"`
}

type ModeConfig struct {
	// External routes resource actions to the remote API instead of the
	// local store.
	External bool `yaml:"external"`
}

type StoreConfig struct {
	Path       string        `yaml:"path" validate:"required_without=InMemory"`
	InMemory   bool          `yaml:"in_memory"`
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

type CacheConfig struct {
	Backend string        `yaml:"backend" validate:"oneof=memory redis none"`
	TTL     time.Duration `yaml:"ttl" validate:"gte=0"`
	Redis   RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	Prefix   string `yaml:"prefix"`
}

// UploadsConfig configures the image-upload path. Uploads are disabled
// when Bucket is empty.
type UploadsConfig struct {
	Bucket          string `yaml:"bucket"`
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
	PublicBaseURL   string `yaml:"public_base_url" validate:"omitempty,http_url"`
	MaxBytes        int64  `yaml:"max_bytes" validate:"gte=0"`
}

type TelemetryConfig struct {
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	ServiceName    string `yaml:"service_name"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() EdgeConfig {
	return EdgeConfig{
		Server: ServerConfig{Port: 3000, GinMode: "release"},
		Backend: BackendConfig{
			BaseURL:       "http://localhost:8080",
			Timeout:       30 * time.Second,
			SessionCookie: "access_token",
		},
		Store: StoreConfig{
			Path:       "./data/fieldops",
			GCInterval: 5 * time.Minute,
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     time.Minute,
			Redis: RedisConfig{
				Address: "localhost:6379",
				Prefix:  "fieldops:",
			},
		},
		Uploads: UploadsConfig{MaxBytes: 10 << 20},
		Telemetry: TelemetryConfig{
			MetricsEnabled: true,
			ServiceName:    "fieldops-edge",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}
