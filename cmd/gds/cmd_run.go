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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianGDS/services/gds"
	"github.com/AleutianAI/AleutianGDS/services/gds/catalog"
	"github.com/AleutianAI/AleutianGDS/services/gds/concurrency"
	"github.com/AleutianAI/AleutianGDS/services/gds/generator"
	"github.com/AleutianAI/AleutianGDS/services/gds/history"
	"github.com/AleutianAI/AleutianGDS/services/gds/loader"
	"github.com/AleutianAI/AleutianGDS/services/gds/progress"
	"github.com/AleutianAI/AleutianGDS/services/gds/termination"
	"github.com/AleutianAI/AleutianGDS/services/gds/tui"
)

// =============================================================================
// Engine
// =============================================================================

// engine is an in-process catalog and job manager without the HTTP layer.
type engine struct {
	catalog *catalog.Catalog
	graphs  *gds.GraphManager
	jobs    *gds.JobManager
	tasks   *progress.TaskRegistry
	history *history.Store
	gcs     *loader.LazyGCSOpener
}

func newEngine(a *app) (*engine, error) {
	logger := a.slog()
	hist, err := history.OpenInMemory()
	if err != nil {
		return nil, err
	}
	exec := concurrency.NewExecutor(a.cfg.Executor.Concurrency, logger)
	e := &engine{
		catalog: catalog.New(logger),
		tasks:   progress.NewTaskRegistry(a.cfg.Progress.StreamInterval),
		history: hist,
		gcs:     &loader.LazyGCSOpener{CredentialsFile: a.cfg.Catalog.GCSCredentialsFile},
	}
	ld := loader.New(
		loader.WithLogger(logger),
		loader.WithOpener(loader.RoutingOpener{Local: loader.FileOpener{}, Remote: e.gcs}),
	)
	e.graphs = gds.NewGraphManager(e.catalog, ld, exec, a.cfg.Catalog.Debounce, logger)
	e.jobs, err = gds.NewJobManager(gds.JobManagerDeps{
		Catalog:  e.catalog,
		History:  hist,
		Executor: exec,
		Flags:    termination.NewRegistry(logger),
		Tasks:    e.tasks,
		Logger:   logger,
	}, gds.JobManagerConfig{
		DefaultTimeout:   a.cfg.Termination.DefaultTimeout,
		ProgressInterval: a.cfg.Termination.ProgressInterval,
		LogInterval:      a.cfg.Progress.LogInterval,
	})
	if err != nil {
		_ = hist.Close()
		return nil, err
	}
	return e, nil
}

func (e *engine) close() error {
	err := e.jobs.Shutdown(context.Background())
	e.graphs.Close()
	return errors.Join(err, e.gcs.Close(), e.history.Close())
}

// graphSource selects the graph a command works on.
type graphSource struct {
	manifest string
	gen      generator.Config
}

func (s *graphSource) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&s.manifest, "manifest", "m", "", "manifest of the graph to load")
	cmd.Flags().StringVar(&s.gen.Name, "name", "generated", "name of a generated graph")
	cmd.Flags().Int64Var(&s.gen.NodeCount, "nodes", 0, "generate a random graph with this many nodes")
	cmd.Flags().Float64Var(&s.gen.AverageDegree, "degree", 4, "average out-degree of a generated graph")
	cmd.Flags().StringVar((*string)(&s.gen.Distribution), "distribution", string(generator.Uniform), "degree distribution: uniform, random or power_law")
	cmd.Flags().Uint64Var(&s.gen.Seed, "seed", 0, "random seed of a generated graph")
	cmd.Flags().BoolVar(&s.gen.InverseIndex, "inverse-index", false, "index incoming relationships of a generated graph")
	cmd.Flags().StringVar(&s.gen.PropertyKey, "property", "", "add a random double node property with this key")
}

// load publishes the selected graph and returns its catalog name.
func (s *graphSource) load(ctx context.Context, e *engine) (catalog.Summary, error) {
	switch {
	case s.manifest != "" && s.gen.NodeCount > 0:
		return catalog.Summary{}, errors.New("--manifest and --nodes are mutually exclusive")
	case s.manifest != "":
		return e.graphs.Load(ctx, gds.LoadRequest{Manifest: s.manifest})
	case s.gen.NodeCount > 0:
		if s.gen.PropertyKey != "" && s.gen.PropertyMax == 0 {
			s.gen.PropertyMax = 1
		}
		return e.graphs.Generate(ctx, s.gen)
	default:
		return catalog.Summary{}, errors.New("one of --manifest or --nodes is required")
	}
}

// =============================================================================
// Run Command
// =============================================================================

type runOptions struct {
	source    graphSource
	algorithm string
	params    []string
	mutate    string
	timeout   time.Duration
	useTUI    bool
	export    string
	output    string
}

func newRunCmd(a *app) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an algorithm on a loaded or generated graph",
		Long: `Loads a manifest or generates a random graph, runs one algorithm on it and
prints the job record. Algorithm parameters are given as --param key=value,
with values parsed as YAML:

  gds run -m social.yaml -a pagerank --param damping_factor=0.9 --param relationship_types=[KNOWS]

Ctrl+C cancels the job.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			rec, err := runJob(ctx, a, opts, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if err := writeOutput(cmd.OutOrStdout(), opts.output, rec); err != nil {
				return err
			}
			if rec.Status != history.StatusCompleted {
				return fmt.Errorf("job %s %s: %s", rec.ID, rec.Status, rec.Error)
			}
			return nil
		},
	}
	opts.source.addFlags(cmd)
	cmd.Flags().StringVarP(&opts.algorithm, "algorithm", "a", "", "algorithm to run")
	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "algorithm parameter as key=value, repeatable")
	cmd.Flags().StringVar(&opts.mutate, "mutate", "", "write per-node results to this node property")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "stop the job after this long")
	cmd.Flags().BoolVar(&opts.useTUI, "tui", false, "show live progress when stdout is a terminal")
	cmd.Flags().StringVar(&opts.export, "export", "", "after the job, export the graph as CSV to this directory")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "yaml", "output format: yaml or json")
	_ = cmd.MarkFlagRequired("algorithm")
	return cmd
}

// runJob runs one algorithm in process and returns its final record.
func runJob(ctx context.Context, a *app, opts *runOptions, in io.Reader, out io.Writer) (history.Record, error) {
	logger := a.slog()
	params, err := parseParams(opts.params)
	if err != nil {
		return history.Record{}, err
	}

	e, err := newEngine(a)
	if err != nil {
		return history.Record{}, err
	}
	defer func() {
		if err := e.close(); err != nil {
			logger.Warn("closing engine failed", slog.String("error", err.Error()))
		}
	}()

	summary, err := opts.source.load(ctx, e)
	if err != nil {
		return history.Record{}, err
	}
	logger.Info("graph ready",
		slog.String("graph", summary.Name),
		slog.Int64("nodes", summary.NodeCount),
		slog.Int64("relationships", summary.RelationshipCount),
	)

	id, err := e.jobs.Submit(ctx, gds.JobRequest{
		Graph:          summary.Name,
		Algorithm:      opts.algorithm,
		Config:         params,
		MutateProperty: opts.mutate,
		TimeoutMillis:  opts.timeout.Milliseconds(),
	})
	if err != nil {
		return history.Record{}, err
	}

	if opts.useTUI && isTerminal(out) {
		if root, ok := e.tasks.Get(id); ok {
			view, err := tui.Run(ctx, tui.Config{
				Title:  fmt.Sprintf("%s on %s", opts.algorithm, summary.Name),
				Poll:   root.Snapshot,
				Cancel: func() { _ = e.jobs.Cancel(context.Background(), id) },
			}, in, out)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("progress view failed", slog.String("error", err.Error()))
			}
			if view.Aborted() {
				_ = e.jobs.Cancel(context.Background(), id)
			}
		}
	} else if opts.useTUI {
		logger.Info("stdout is not a terminal, progress goes to the log")
	}

	rec, err := e.jobs.Wait(ctx, id)
	if err != nil {
		// Interrupted: stop the job and wait for it to record the outcome.
		_ = e.jobs.Cancel(context.Background(), id)
		if rec, err = e.jobs.Wait(context.Background(), id); err != nil {
			return history.Record{}, err
		}
	}

	if opts.export != "" && rec.Status == history.StatusCompleted {
		entry, release, err := e.catalog.Get(summary.Name)
		if err != nil {
			return rec, err
		}
		defer release()
		path, err := loader.Export(ctx, entry.Store, opts.export)
		if err != nil {
			return rec, err
		}
		logger.Info("graph exported", slog.String("manifest", path))
	}
	return rec, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// parseParams turns key=value pairs into an algorithm config map. Values
// are YAML scalars or flow sequences, so 0.85 is a float, 10 an integer
// and [A, B] a list.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q: want key=value", pair)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("invalid --param %s: %w", key, err)
		}
		if value == nil {
			value = raw
		}
		params[key] = value
	}
	return params, nil
}
