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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all GDS routes with the router.
//
// Description:
//
//	Registers all /v1/gds/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Graph Endpoints:
//
//	GET    /v1/gds/graphs - List catalog graphs
//	GET    /v1/gds/graphs/:name - Describe one graph
//	POST   /v1/gds/graphs/generate - Generate a random graph
//	POST   /v1/gds/graphs/load - Load a manifest, optionally watched
//	DELETE /v1/gds/graphs/:name - Drop a graph (?force=true while in use)
//	POST   /v1/gds/graphs/:name/subgraph - Induce a subgraph by ids or filter
//
// Job Endpoints:
//
//	GET    /v1/gds/algorithms - List algorithms
//	POST   /v1/gds/jobs - Run an algorithm (sync or async)
//	GET    /v1/gds/jobs - List running jobs
//	GET    /v1/gds/jobs/:id - Get a job record
//	DELETE /v1/gds/jobs/:id - Cancel a running job
//	GET    /v1/gds/jobs/:id/progress - Stream the task tree (WebSocket)
//	GET    /v1/gds/history - List finished and running job records
//
// Health Endpoints:
//
//	GET /v1/gds/health - Health check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	g := rg.Group("/gds")
	{
		g.GET("/health", handlers.HandleHealth)

		graphs := g.Group("/graphs")
		graphs.GET("", handlers.HandleListGraphs)
		graphs.POST("/generate", handlers.HandleGenerateGraph)
		graphs.POST("/load", handlers.HandleLoadGraph)
		graphs.GET("/:name", handlers.HandleGetGraph)
		graphs.DELETE("/:name", handlers.HandleDropGraph)
		graphs.POST("/:name/subgraph", handlers.HandleSubgraph)

		g.GET("/algorithms", handlers.HandleListAlgorithms)

		jobs := g.Group("/jobs")
		jobs.POST("", handlers.HandleSubmitJob)
		jobs.GET("", handlers.HandleListJobs)
		jobs.GET("/:id", handlers.HandleGetJob)
		jobs.DELETE("/:id", handlers.HandleCancelJob)
		jobs.GET("/:id/progress", handlers.HandleJobProgress)

		g.GET("/history", handlers.HandleListHistory)
	}
}
