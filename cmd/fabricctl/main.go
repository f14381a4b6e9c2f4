// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command fabricctl is the operator CLI for a routing fabric: it
// bootstraps its own node and inspects or mutates that node's Route
// Registry (C4) and Endpoint Map (C3) directly. Both coordination backends
// it can open are in-process, so it does not see or change the state of a
// separately running fabricd. The command tree follows the way cmd/aleutian's cobra command tree drives the
// orchestrator service (SPEC_FULL §4.10).
//
// Usage:
//
//	fabricctl routes get order.created
//	fabricctl routes register billing order.created
//	fabricctl maps get billing
//	fabricctl http get /api/orders
//	fabricctl modules running billing
//	fabricctl send order.created '{"id":1}'
//	fabricctl watch order.created
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/routefabric/routefabric/fabricnode"
	"github.com/routefabric/routefabric/fabrictypes"
)

// configPath and nodeAddr hold flag values shared by every subcommand,
// matching the package-level flag-variable convention cmd_chat.go uses
// for pipelineType and dataSpaceFlag.
var (
	configPath string
	nodeAddr   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fabricctl",
		Short: "Operator CLI for a routefabric node's Route Registry and Endpoint Map",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a node configuration YAML overriding the embedded defaults")
	rootCmd.PersistentFlags().StringVar(&nodeAddr, "addr", "fabricctl-local", "this CLI's physical transport address")

	rootCmd.AddCommand(newRoutesCmd())
	rootCmd.AddCommand(newMapsCmd())
	rootCmd.AddCommand(newHTTPCmd())
	rootCmd.AddCommand(newModulesCmd())
	rootCmd.AddCommand(newSendCmd())
	rootCmd.AddCommand(newWatchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// attach bootstraps a fresh Node from the configured backends. The
// coordination store it opens (memory, or badger in in-memory mode) is
// private to this process, so the CLI works only on state it creates
// itself and shares nothing with a running fabricd.
func attach(ctx context.Context) (*fabricnode.Node, error) {
	return fabricnode.Bootstrap(ctx, configPath, fabrictypes.PhysicalAddress(nodeAddr), slog.Default())
}
