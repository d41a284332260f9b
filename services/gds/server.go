// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gds is the HTTP facade of the graph analytics engine.
//
// A Server owns one graph catalog, one job manager and the registries jobs
// report into. Algorithms run as jobs against catalog graphs; every job has
// a stop flag in the termination registry, a task tree in the progress
// registry and a record in the job history.
package gds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianGDS/services/gds/catalog"
	"github.com/AleutianAI/AleutianGDS/services/gds/concurrency"
	"github.com/AleutianAI/AleutianGDS/services/gds/config"
	"github.com/AleutianAI/AleutianGDS/services/gds/history"
	"github.com/AleutianAI/AleutianGDS/services/gds/loader"
	"github.com/AleutianAI/AleutianGDS/services/gds/progress"
	"github.com/AleutianAI/AleutianGDS/services/gds/telemetry"
	"github.com/AleutianAI/AleutianGDS/services/gds/termination"
)

// Server wires the engine behind the HTTP API.
//
// Thread Safety:
//
//	Run and Shutdown may be called from different goroutines. Shutdown is
//	idempotent.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	router     *gin.Engine
	httpServer *http.Server

	catalog  *catalog.Catalog
	history  *history.Store
	executor *concurrency.Executor
	flags    *termination.Registry
	tasks    *progress.TaskRegistry
	graphs   *GraphManager
	jobs     *JobManager
	gcs      *loader.LazyGCSOpener

	stopStall context.CancelFunc
	stopOnce  sync.Once
	stopErr   error
}

// NewServer builds a server from cfg.
//
// Description:
//
//	Opens the job history, creates the catalog, executor and registries,
//	loads the configured startup graphs and starts stall detection. A
//	startup graph that fails to load fails construction.
//
// Inputs:
//
//	ctx - Context for startup graph loads.
//	cfg - Validated configuration.
//	logger - Logger. Nil uses slog.Default().
//
// Outputs:
//
//	*Server - Ready to Run.
//	error - Non-nil if the history cannot be opened or a startup graph
//	  fails to load.
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	hist, err := history.Open(cfg.History, logger)
	if err != nil {
		return nil, fmt.Errorf("opening job history: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		history:  hist,
		executor: concurrency.NewExecutor(cfg.Executor.Concurrency, logger),
		flags:    termination.NewRegistry(logger),
		tasks:    progress.NewTaskRegistry(cfg.Progress.StreamInterval),
		gcs:      &loader.LazyGCSOpener{CredentialsFile: cfg.Catalog.GCSCredentialsFile},
	}
	s.catalog = catalog.New(logger,
		catalog.WithMaxEntries(cfg.Catalog.MaxEntries),
		catalog.WithErrorCacheTTL(cfg.Catalog.ErrorCacheTTL),
	)

	ld := loader.New(
		loader.WithLogger(logger),
		loader.WithOpener(loader.RoutingOpener{Local: loader.FileOpener{}, Remote: s.gcs}),
	)
	s.graphs = NewGraphManager(s.catalog, ld, s.executor, cfg.Catalog.Debounce, logger)

	s.jobs, err = NewJobManager(JobManagerDeps{
		Catalog:    s.catalog,
		History:    hist,
		Algorithms: DefaultAlgorithms(),
		Executor:   s.executor,
		Flags:      s.flags,
		Tasks:      s.tasks,
		Logger:     logger,
	}, JobManagerConfig{
		DefaultTimeout:   cfg.Termination.DefaultTimeout,
		ProgressInterval: cfg.Termination.ProgressInterval,
		LogInterval:      cfg.Progress.LogInterval,
	})
	if err != nil {
		_ = hist.Close()
		return nil, err
	}

	for _, gc := range cfg.Catalog.Graphs {
		summary, err := s.graphs.Load(ctx, LoadRequest{Manifest: gc.Manifest, Watch: gc.Watch, Replace: true})
		if err != nil {
			s.graphs.Close()
			_ = hist.Close()
			return nil, fmt.Errorf("loading startup graph %s: %w", gc.Manifest, err)
		}
		logger.Info("startup graph loaded",
			slog.String("graph", summary.Name),
			slog.Bool("watch", gc.Watch),
			slog.Int64("nodes", summary.NodeCount),
			slog.Int64("relationships", summary.RelationshipCount),
		)
	}

	stallCtx, stopStall := context.WithCancel(context.Background())
	s.stopStall = stopStall
	if cfg.Termination.StallCheckInterval > 0 {
		detector := termination.NewStallDetector(s.flags, cfg.Termination.StallCheckInterval, cfg.Termination.StallMultiplier)
		go detector.Run(stallCtx)
	}

	s.router = s.newRouter()
	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) newRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(s.cfg.Telemetry.ServiceName))
	if s.cfg.Server.Mode == gin.DebugMode {
		router.Use(gin.Logger())
	}

	handlers := NewHandlers(HandlersDeps{
		Catalog:     s.catalog,
		Graphs:      s.graphs,
		Jobs:        s.jobs,
		Algorithms:  s.jobs.algorithms,
		History:     s.history,
		Tasks:       s.tasks,
		MaxSyncWait: s.cfg.Server.MaxSyncWait,
	})

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	return router
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Catalog returns the server's graph catalog.
func (s *Server) Catalog() *catalog.Catalog {
	return s.catalog
}

// Run serves until ctx is done, then shuts down gracefully within the
// configured timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting GDS server", slog.String("address", s.cfg.Server.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down GDS server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests, cancels running jobs, waits for them
// to record their outcome and closes the history.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { s.stopErr = s.shutdown(ctx) })
	return s.stopErr
}

func (s *Server) shutdown(ctx context.Context) error {
	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.jobs.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	s.stopStall()
	s.graphs.Close()
	if err := s.gcs.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing gcs client: %w", err))
	}
	if err := s.history.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing history: %w", err))
	}
	return errors.Join(errs...)
}
