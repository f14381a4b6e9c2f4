// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command fabricd runs one routing-fabric node: it hosts the Route
// Registry endpoint and exposes an admin/observability HTTP surface
// (SPEC_FULL §4.11). It does not start a gRPC server for
// registryrpc.CoordinationService.
//
// Usage:
//
//	go run ./cmd/fabricd
//	go run ./cmd/fabricd -config /etc/routefabric/node.yaml -addr :7100 -http :8080
//
// Example requests:
//
//	curl http://localhost:8080/healthz
//	curl http://localhost:8080/statusz | jq
//	curl http://localhost:8080/metrics
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/routefabric/routefabric/fabricnode"
	"github.com/routefabric/routefabric/fabrictypes"
)

func main() {
	configPath := flag.String("config", "", "path to a node configuration YAML overriding the embedded defaults")
	nodeAddr := flag.String("addr", "fabricd-local", "this node's physical transport address")
	httpAddr := flag.String("http", ":8080", "address the admin/observability HTTP surface listens on")
	debug := flag.Bool("debug", false, "enable gin request logging")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, err := fabricnode.Bootstrap(ctx, *configPath, fabrictypes.PhysicalAddress(*nodeAddr), slog.Default())
	if err != nil {
		slog.Error("failed to bootstrap node", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// The daemon announces itself in the module running index so fleet
	// tooling (fabricctl modules running fabricd) can enumerate live nodes.
	if err := node.Modules.MarkRunning(ctx, "fabricd"); err != nil {
		slog.Warn("marking fabricd running", slog.String("error", err.Error()))
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if *debug {
		router.Use(gin.Logger())
	}
	registerRoutes(router, node)

	srv := &http.Server{Addr: *httpAddr, Handler: router}
	go func() {
		<-ctx.Done()
		slog.Info("shutting down fabricd")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown error", slog.String("error", err.Error()))
		}
		if err := node.Close(shutdownCtx); err != nil {
			slog.Warn("node shutdown error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("starting fabricd", slog.String("http", *httpAddr), slog.String("node_address", *nodeAddr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// registerRoutes wires the admin/observability surface named in SPEC_FULL
// §4.11, grounded on the teacher's services/trace/routes.go /v1/trace
// health/ready convention and the same package's /v1/trace/debug group.
func registerRoutes(r *gin.Engine, node *fabricnode.Node) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/statusz", func(c *gin.Context) {
		sess, err := node.Store.Session(c.Request.Context())
		status := gin.H{
			"local_address":    node.Mux.LocalAddress().String(),
			"endpoint_count":   node.System.EndpointCount(),
			"coordination":     node.Config.Node.CoordinationBackend,
			"transport":        node.Config.Node.TransportBackend,
			"scheduler_policy": node.Config.Node.SchedulerPolicy,
		}
		if err != nil {
			status["session_error"] = err.Error()
		} else {
			status["session"] = sess.String()
		}
		c.JSON(http.StatusOK, status)
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
