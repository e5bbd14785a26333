// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/FieldOps/pkg/logging"
	"github.com/AleutianAI/FieldOps/pkg/ux"
	"github.com/AleutianAI/FieldOps/services/edge"
	"github.com/AleutianAI/FieldOps/services/edge/config"
	"github.com/AleutianAI/FieldOps/services/edge/mode"
)

var (
	rootCmd = &cobra.Command{
		Use:           "fieldops",
		Short:         "Edge service for the FieldOps field-operations platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the edge HTTP server",
		Long:  `Serves resource actions, the API proxy, the dashboard and image uploads until interrupted.`,
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}
	configPrintCmd = &cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE:  runConfigPrint,
	}
	configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default values",
		Args:  cobra.NoArgs,
		RunE:  runConfigInit,
	}
	modeCmd = &cobra.Command{
		Use:   "mode",
		Short: "Print the active data-source mode (local or external)",
		Args:  cobra.NoArgs,
		RunE:  runMode,
	}

	configPath string
	force      bool

	// getenv is swapped in tests.
	getenv = os.Getenv
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "fieldops.yaml", "Path to the YAML configuration file")
	configInitCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	configCmd.AddCommand(configPrintCmd, configInitCmd)
	rootCmd.AddCommand(serveCmd, configCmd, modeCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath, getenv)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: cfg.Telemetry.ServiceName,
		JSON:    cfg.Logging.JSON,
	})
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := edge.New(ctx, cfg, logger.Slog())
	if err != nil {
		return fmt.Errorf("failed to create edge service: %w", err)
	}
	defer svc.Close()

	return svc.Run(ctx)
}

func runConfigPrint(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath, getenv)
	if err != nil {
		return err
	}
	if cfg.Backend.APIToken != "" {
		cfg.Backend.APIToken = "<redacted>"
	}
	if cfg.Cache.Redis.Password != "" {
		cfg.Cache.Redis.Password = "<redacted>"
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	if force {
		if err := os.Remove(configPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", configPath, err)
		}
	}
	if err := config.WriteDefault(configPath); err != nil {
		return err
	}
	ux.NewPrinter(cmd.OutOrStdout()).Success("Wrote default configuration to " + configPath)
	return nil
}

func runMode(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath, getenv)
	if err != nil {
		return err
	}
	ux.NewPrinter(cmd.OutOrStdout()).Value(mode.New(cfg.Mode.External).String())
	return nil
}

// executeContext is used by tests.
func executeContext(ctx context.Context, args ...string) error {
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}
