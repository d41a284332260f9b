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
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGDS/services/gds"
	"github.com/AleutianAI/AleutianGDS/services/gds/catalog"
	"github.com/AleutianAI/AleutianGDS/services/gds/loader"
)

// graphReport is printed by generate and inspect.
type graphReport struct {
	Graph    catalog.Summary `json:"graph"`
	Manifest string          `json:"manifest,omitempty"`
}

func newGenerateCmd(a *app) *cobra.Command {
	var (
		source graphSource
		out    string
		output string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a random graph",
		Long: `Generates a random graph and prints its summary. With --out the graph is
written as CSV files plus a manifest that "gds run -m" and "gds serve" can
load.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if source.gen.NodeCount <= 0 {
				return errors.New("--nodes must be positive")
			}
			e, err := newEngine(a)
			if err != nil {
				return err
			}
			defer e.close()

			ctx := cmd.Context()
			summary, err := source.load(ctx, e)
			if err != nil {
				return err
			}
			report := graphReport{Graph: summary}
			if out != "" {
				entry, release, err := e.catalog.Get(summary.Name)
				if err != nil {
					return err
				}
				defer release()
				if report.Manifest, err = loader.Export(ctx, entry.Store, out); err != nil {
					return err
				}
				a.slog().Info("graph exported", slog.String("manifest", report.Manifest))
			}
			return writeOutput(cmd.OutOrStdout(), output, report)
		},
	}
	source.addFlags(cmd)
	_ = cmd.Flags().MarkHidden("manifest")
	cmd.Flags().StringVar(&out, "out", "", "write the graph as CSV plus manifest to this directory")
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format: yaml or json")
	return cmd
}

func newInspectCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "inspect <manifest>",
		Short: "Load a manifest and print the graph schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(a)
			if err != nil {
				return err
			}
			defer e.close()

			summary, err := e.graphs.Load(cmd.Context(), gds.LoadRequest{Manifest: args[0]})
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), output, graphReport{Graph: summary, Manifest: summary.Source})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format: yaml or json")
	return cmd
}
