// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/routefabric/routefabric/fabrictypes"
)

var (
	routeTransient   bool
	routePublishOnly bool
	removePersistent bool
)

func newRoutesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Inspect and mutate route registrations (C4 Route Registry)",
	}
	cmd.AddCommand(newRoutesGetCmd())
	cmd.AddCommand(newRoutesRegisterCmd())
	cmd.AddCommand(newRoutesUnregisterCmd())
	cmd.AddCommand(newRoutesUnregisterAllCmd())
	return cmd
}

func newRoutesGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <route>",
		Short: "List the registered targets for a route",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			node, err := attach(cmd.Context())
			if err != nil {
				log.Fatalf("attaching to node: %v", err)
			}
			defer node.Close(cmd.Context())

			targets, err := node.Registry.GetRoutes(cmd.Context(), fabrictypes.Route(args[0]))
			if err != nil {
				log.Fatalf("getting routes: %v", err)
			}
			if len(targets) == 0 {
				fmt.Println("(no targets registered)")
				return
			}
			for _, t := range targets {
				fmt.Printf("%-32s transient=%-5t publish_only=%-5t\n", t.Endpoint, t.Options.IsTransient(), t.Options.IsPublishOnly())
			}
		},
	}
}

func newRoutesRegisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register <endpoint> <route>",
		Short: "Register endpoint as a target of route",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			node, err := attach(cmd.Context())
			if err != nil {
				log.Fatalf("attaching to node: %v", err)
			}
			defer node.Close(cmd.Context())

			opts := fabrictypes.Default
			if routeTransient {
				opts |= fabrictypes.Transient
			}
			if routePublishOnly {
				opts |= fabrictypes.PublishOnly
			}
			endpoint := fabrictypes.EndpointAddress(args[0])
			route := fabrictypes.Route(args[1])
			if err := node.Registry.AddRoute(cmd.Context(), endpoint, route, opts); err != nil {
				log.Fatalf("registering route: %v", err)
			}
			fmt.Printf("registered %s -> %s\n", route, endpoint)
		},
	}
	cmd.Flags().BoolVar(&routeTransient, "transient", false, "remove this registration when the owning session ends")
	cmd.Flags().BoolVar(&routePublishOnly, "publish-only", false, "only reachable via publish, never point-to-point routing")
	return cmd
}

func newRoutesUnregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <endpoint> <route>",
		Short: "Remove one route registration for endpoint",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			node, err := attach(cmd.Context())
			if err != nil {
				log.Fatalf("attaching to node: %v", err)
			}
			defer node.Close(cmd.Context())

			endpoint := fabrictypes.EndpointAddress(args[0])
			route := fabrictypes.Route(args[1])
			if err := node.Registry.RemoveRoute(cmd.Context(), endpoint, route); err != nil {
				log.Fatalf("unregistering route: %v", err)
			}
			fmt.Printf("unregistered %s -> %s\n", route, endpoint)
		},
	}
}

func newRoutesUnregisterAllCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unregister-all <endpoint>",
		Short: "Remove every route registration for endpoint",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			node, err := attach(cmd.Context())
			if err != nil {
				log.Fatalf("attaching to node: %v", err)
			}
			defer node.Close(cmd.Context())

			endpoint := fabrictypes.EndpointAddress(args[0])
			if err := node.Registry.RemoveRoutes(cmd.Context(), endpoint, removePersistent); err != nil {
				log.Fatalf("unregistering routes: %v", err)
			}
			fmt.Printf("unregistered all routes for %s\n", endpoint)
		},
	}
	cmd.Flags().BoolVar(&removePersistent, "persistent", false, "also remove persistent (non-transient) registrations")
	return cmd
}
