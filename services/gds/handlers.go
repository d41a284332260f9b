// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gds

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianGDS/services/gds/catalog"
	"github.com/AleutianAI/AleutianGDS/services/gds/generator"
	"github.com/AleutianAI/AleutianGDS/services/gds/history"
	"github.com/AleutianAI/AleutianGDS/services/gds/progress"
)

// ServiceVersion is the GDS service version.
const ServiceVersion = "0.1.0"

// DefaultHistoryLimit caps history listings that set no limit.
const DefaultHistoryLimit = 100

const progressWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HealthResponse is the body of GET /v1/gds/health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Graphs        int    `json:"graphs"`
	WatchedGraphs int    `json:"watched_graphs"`
	RunningJobs   int    `json:"running_jobs"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// GraphListResponse is the body of GET /v1/gds/graphs.
type GraphListResponse struct {
	Graphs []catalog.Summary `json:"graphs"`
	Count  int               `json:"count"`
	Stats  catalog.Stats     `json:"stats"`
}

// AlgorithmListResponse is the body of GET /v1/gds/algorithms.
type AlgorithmListResponse struct {
	Algorithms []AlgorithmInfo `json:"algorithms"`
}

// HistoryQuery filters GET /v1/gds/history.
type HistoryQuery struct {
	Limit     int    `form:"limit" binding:"gte=0,lte=10000"`
	Graph     string `form:"graph"`
	Algorithm string `form:"algorithm"`
}

// HistoryResponse is the body of GET /v1/gds/history.
type HistoryResponse struct {
	Records []history.Record `json:"records"`
	Count   int              `json:"count"`
}

// Handlers contains the HTTP handlers of the GDS service.
type Handlers struct {
	catalog     *catalog.Catalog
	graphs      *GraphManager
	jobs        *JobManager
	algorithms  *Algorithms
	history     *history.Store
	tasks       *progress.TaskRegistry
	maxSyncWait time.Duration
	startedAt   time.Time
}

// HandlersDeps are the collaborators of Handlers.
type HandlersDeps struct {
	Catalog    *catalog.Catalog
	Graphs     *GraphManager
	Jobs       *JobManager
	Algorithms *Algorithms
	History    *history.Store
	Tasks      *progress.TaskRegistry

	// MaxSyncWait bounds synchronous job requests. Zero waits as long as
	// the request lives.
	MaxSyncWait time.Duration
}

// NewHandlers creates handlers.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		catalog:     deps.Catalog,
		graphs:      deps.Graphs,
		jobs:        deps.Jobs,
		algorithms:  deps.Algorithms,
		history:     deps.History,
		tasks:       deps.Tasks,
		maxSyncWait: deps.MaxSyncWait,
		startedAt:   time.Now(),
	}
}

// HandleHealth handles GET /v1/gds/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:        "healthy",
		Version:       ServiceVersion,
		Graphs:        len(h.catalog.Names()),
		WatchedGraphs: h.graphs.Watching(),
		RunningJobs:   h.jobs.RunningCount(),
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleListGraphs handles GET /v1/gds/graphs.
func (h *Handlers) HandleListGraphs(c *gin.Context) {
	graphs := h.catalog.List()
	c.JSON(http.StatusOK, GraphListResponse{
		Graphs: graphs,
		Count:  len(graphs),
		Stats:  h.catalog.Stats(),
	})
}

// HandleGetGraph handles GET /v1/gds/graphs/:name.
//
// Response:
//
//	200 OK: catalog.Summary
//	404 Not Found: GRAPH_NOT_FOUND
func (h *Handlers) HandleGetGraph(c *gin.Context) {
	summary, err := h.catalog.Describe(c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// HandleGenerateGraph handles POST /v1/gds/graphs/generate.
//
// Description:
//
//	Generates a random graph and adds it to the catalog.
//
// Request Body:
//
//	generator.Config
//
// Response:
//
//	201 Created: catalog.Summary
//	400 Bad Request: INVALID_REQUEST or INVALID_CONFIG
//	409 Conflict: GRAPH_EXISTS
func (h *Handlers) HandleGenerateGraph(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGenerateGraph")

	var req generator.Config
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    CodeInvalidRequest,
			Details: err.Error(),
		})
		return
	}

	summary, err := h.graphs.Generate(c.Request.Context(), req)
	if err != nil {
		logger.Warn("Generate failed", "graph", req.Name, "error", err)
		writeError(c, err)
		return
	}

	logger.Info("Graph generated",
		"graph", summary.Name,
		"nodes", summary.NodeCount,
		"relationships", summary.RelationshipCount)
	c.JSON(http.StatusCreated, summary)
}

// HandleLoadGraph handles POST /v1/gds/graphs/load.
//
// Request Body:
//
//	LoadRequest
//
// Response:
//
//	201 Created: catalog.Summary
//	400 Bad Request: INVALID_REQUEST, INVALID_CONFIG or GRAPH_ERROR
//	409 Conflict: GRAPH_EXISTS
//	422 Unprocessable Entity: LOAD_FAILED
func (h *Handlers) HandleLoadGraph(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleLoadGraph")

	var req LoadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    CodeInvalidRequest,
			Details: err.Error(),
		})
		return
	}

	summary, err := h.graphs.Load(c.Request.Context(), req)
	if err != nil {
		logger.Warn("Load failed", "manifest", req.Manifest, "error", err)
		writeError(c, err)
		return
	}

	logger.Info("Graph loaded",
		"graph", summary.Name,
		"manifest", req.Manifest,
		"watch", req.Watch,
		"nodes", summary.NodeCount,
		"relationships", summary.RelationshipCount)
	c.JSON(http.StatusCreated, summary)
}

// HandleDropGraph handles DELETE /v1/gds/graphs/:name.
//
// Description:
//
//	Drops a graph. Graphs referenced by running jobs are refused unless
//	?force=true is given; the jobs keep their snapshot.
//
// Response:
//
//	200 OK: catalog.Summary of the dropped graph
//	404 Not Found: GRAPH_NOT_FOUND
//	409 Conflict: GRAPH_IN_USE
func (h *Handlers) HandleDropGraph(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDropGraph")

	name := c.Param("name")
	force, _ := strconv.ParseBool(c.Query("force"))

	summary, err := h.graphs.Drop(name, force)
	if err != nil {
		logger.Warn("Drop failed", "graph", name, "error", err)
		writeError(c, err)
		return
	}
	logger.Info("Graph dropped", "graph", name, "forced", force)
	c.JSON(http.StatusOK, summary)
}

// HandleSubgraph handles POST /v1/gds/graphs/:name/subgraph.
//
// Request Body:
//
//	SubgraphRequest
//
// Response:
//
//	201 Created: SubgraphResponse
//	400 Bad Request: INVALID_REQUEST, INVALID_CONFIG or GRAPH_ERROR
//	404 Not Found: GRAPH_NOT_FOUND
//	409 Conflict: GRAPH_EXISTS
func (h *Handlers) HandleSubgraph(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSubgraph")

	var req SubgraphRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    CodeInvalidRequest,
			Details: err.Error(),
		})
		return
	}

	source := c.Param("name")
	resp, err := h.graphs.Subgraph(c.Request.Context(), source, req)
	if err != nil {
		logger.Warn("Subgraph failed", "source", source, "graph", req.Name, "error", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// HandleListAlgorithms handles GET /v1/gds/algorithms.
func (h *Handlers) HandleListAlgorithms(c *gin.Context) {
	c.JSON(http.StatusOK, AlgorithmListResponse{Algorithms: h.algorithms.List()})
}

// HandleSubmitJob handles POST /v1/gds/jobs.
//
// Description:
//
//	Runs an algorithm against a catalog graph. Synchronous requests wait
//	up to the configured maximum and answer 202 with the running record
//	if the job has not ended by then.
//
// Request Body:
//
//	JobRequest
//
// Response:
//
//	200 OK: history.Record of a completed job
//	202 Accepted: history.Record of a running job
//	400 Bad Request: INVALID_REQUEST, INVALID_CONFIG or GRAPH_ERROR
//	404 Not Found: GRAPH_NOT_FOUND or ALGORITHM_NOT_FOUND
//	409 Conflict: CANCELLED
//	500 Internal Server Error: ALGORITHM_FAILED
func (h *Handlers) HandleSubmitJob(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSubmitJob")

	var req JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    CodeInvalidRequest,
			Details: err.Error(),
		})
		return
	}

	id, err := h.jobs.Submit(c.Request.Context(), req)
	if err != nil {
		logger.Warn("Job rejected", "graph", req.Graph, "algorithm", req.Algorithm, "error", err)
		writeError(c, err)
		return
	}
	c.Header("Location", "/v1/gds/jobs/"+id)
	logger = logger.With("job_id", id)

	if req.Async {
		rec, err := h.jobs.Get(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		logger.Info("Job accepted")
		c.JSON(http.StatusAccepted, rec)
		return
	}

	ctx := c.Request.Context()
	if h.maxSyncWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.maxSyncWait)
		defer cancel()
	}
	rec, err := h.jobs.Wait(ctx, id)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		writeError(c, err)
		return
	}
	writeRecord(c, rec)
}

// HandleGetJob handles GET /v1/gds/jobs/:id.
//
// Response:
//
//	200 OK: history.Record, with a live task tree while running
//	404 Not Found: JOB_NOT_FOUND
func (h *Handlers) HandleGetJob(c *gin.Context) {
	rec, err := h.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// HandleListJobs handles GET /v1/gds/jobs and lists running jobs.
func (h *Handlers) HandleListJobs(c *gin.Context) {
	running := h.jobs.Running()
	c.JSON(http.StatusOK, HistoryResponse{Records: running, Count: len(running)})
}

// HandleCancelJob handles DELETE /v1/gds/jobs/:id.
//
// Response:
//
//	202 Accepted: cancellation requested
//	404 Not Found: JOB_NOT_FOUND
//	409 Conflict: JOB_FINISHED
func (h *Handlers) HandleCancelJob(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCancelJob")

	id := c.Param("id")
	if err := h.jobs.Cancel(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	logger.Info("Job cancellation requested", "job_id", id)
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "cancelling"})
}

// HandleJobProgress handles GET /v1/gds/jobs/:id/progress.
//
// Description:
//
//	Upgrades to a WebSocket and streams progress.Snapshot messages of the
//	job's task tree until the job ends or the client disconnects. A job
//	that already ended gets its final tree and a normal close.
func (h *Handlers) HandleJobProgress(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleJobProgress")
	id := c.Param("id")

	snapshots, unsubscribe, err := h.tasks.Subscribe(id)
	if err != nil {
		rec, gerr := h.jobs.Get(c.Request.Context(), id)
		if gerr != nil {
			writeError(c, gerr)
			return
		}
		final := make(chan progress.Snapshot, 1)
		if rec.Tasks != nil {
			final <- *rec.Tasks
		}
		close(final)
		snapshots, unsubscribe = final, func() {}
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// The reader only detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case snap, ok := <-snapshots:
			_ = conn.SetWriteDeadline(time.Now().Add(progressWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				logger.Debug("Progress stream closed", "job_id", id, "error", err)
				return
			}
		case <-gone:
			return
		}
	}
}

// HandleListHistory handles GET /v1/gds/history.
//
// Query Parameters:
//
//	limit - Maximum records, newest first. Default 100.
//	graph - Only records for this graph.
//	algorithm - Only records for this algorithm.
func (h *Handlers) HandleListHistory(c *gin.Context) {
	var q HistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid query parameters",
			Code:    CodeInvalidRequest,
			Details: err.Error(),
		})
		return
	}
	if q.Limit == 0 {
		q.Limit = DefaultHistoryLimit
	}

	records, err := h.history.List(c.Request.Context(), history.ListOptions{
		Limit:     q.Limit,
		Graph:     q.Graph,
		Algorithm: q.Algorithm,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, HistoryResponse{Records: records, Count: len(records)})
}

// writeRecord answers a synchronous job with its record, or with an error
// body carrying the job id when the job did not complete.
func writeRecord(c *gin.Context, rec history.Record) {
	switch rec.Status {
	case history.StatusCompleted:
		c.JSON(http.StatusOK, rec)
	case history.StatusRunning:
		c.JSON(http.StatusAccepted, rec)
	default:
		code := rec.ErrorCode
		if code == "" {
			code = CodeInternal
		}
		c.JSON(StatusForCode(code), ErrorResponse{
			Error:   rec.Error,
			Code:    code,
			Details: "job_id=" + rec.ID,
		})
	}
}

func writeError(c *gin.Context, err error) {
	status, body := errorResponse(err)
	c.JSON(status, body)
}

// getOrCreateRequestID returns the X-Request-ID header, generating one if
// absent, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
