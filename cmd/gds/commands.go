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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianGDS/pkg/logging"
	"github.com/AleutianAI/AleutianGDS/services/gds/config"
)

// app holds what the persistent pre-run prepares for subcommands.
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *logging.Logger
}

func (a *app) slog() *slog.Logger {
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger.Slog()
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "gds",
		Short:         "In-memory graph analytics engine",
		Long:          "gds loads property graphs into memory and runs graph algorithms over them, from the command line or as an HTTP service.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if a.logLevel != "" {
				cfg.Logging.Level = a.logLevel
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("creating logger: %w", err)
			}
			slog.SetDefault(logger.Slog())
			a.cfg = cfg
			a.logger = logger
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logger != nil {
				return a.logger.Close()
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")

	rootCmd.AddCommand(
		newServeCmd(a),
		newRunCmd(a),
		newGenerateCmd(a),
		newInspectCmd(a),
	)
	return rootCmd
}

// writeOutput encodes v as JSON or YAML.
//
// YAML output goes through the JSON encoding so both formats share the
// json tags and key order of the API types.
func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var doc yaml.Node
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return err
		}
		blockStyle(&doc)
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(&doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q: want json or yaml", format)
	}
}

// blockStyle drops the flow and quoting styles JSON input parses with.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
