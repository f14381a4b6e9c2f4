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

func newHTTPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "http",
		Short: "Inspect and mutate HTTP prefix dispatch bindings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get <prefix>",
		Short: "List the endpoints bound to an HTTP prefix, dispatch winner first",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			node, err := attach(cmd.Context())
			if err != nil {
				log.Fatalf("attaching to node: %v", err)
			}
			defer node.Close(cmd.Context())

			endpoints, err := node.HTTPRoutes.GetEndpoints(cmd.Context(), args[0])
			if err != nil {
				log.Fatalf("getting prefix bindings: %v", err)
			}
			if len(endpoints) == 0 {
				fmt.Println("(no endpoints bound)")
				return
			}
			for i, ep := range endpoints {
				marker := " "
				if i == 0 {
					marker = "*"
				}
				fmt.Printf("%s %s\n", marker, ep)
			}
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add <prefix> <endpoint>",
		Short: "Bind an endpoint to an HTTP prefix under this session",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			node, err := attach(cmd.Context())
			if err != nil {
				log.Fatalf("attaching to node: %v", err)
			}
			defer node.Close(cmd.Context())

			if err := node.HTTPRoutes.Add(cmd.Context(), args[0], fabrictypes.EndpointAddress(args[1])); err != nil {
				log.Fatalf("adding prefix binding: %v", err)
			}
			fmt.Printf("bound %s -> %s\n", args[0], args[1])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <prefix> <endpoint>",
		Short: "Remove this session's binding of an endpoint to an HTTP prefix",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			node, err := attach(cmd.Context())
			if err != nil {
				log.Fatalf("attaching to node: %v", err)
			}
			defer node.Close(cmd.Context())

			if err := node.HTTPRoutes.Remove(cmd.Context(), args[0], fabrictypes.EndpointAddress(args[1])); err != nil {
				log.Fatalf("removing prefix binding: %v", err)
			}
			fmt.Printf("unbound %s -> %s\n", args[0], args[1])
		},
	})
	return cmd
}

func newModulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modules",
		Short: "Inspect the module prefix and running indexes",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "running <module>",
		Short: "List the sessions currently running a module",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			node, err := attach(cmd.Context())
			if err != nil {
				log.Fatalf("attaching to node: %v", err)
			}
			defer node.Close(cmd.Context())

			instances, err := node.Modules.Running(cmd.Context(), args[0])
			if err != nil {
				log.Fatalf("listing running instances: %v", err)
			}
			if len(instances) == 0 {
				fmt.Println("(not running)")
				return
			}
			for _, inst := range instances {
				fmt.Printf("%-44s %s\n", inst.Session.String(), inst.PhysicalAddress)
			}
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "prefixes <prefix>",
		Short: "List the endpoints announced under a module address prefix",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			node, err := attach(cmd.Context())
			if err != nil {
				log.Fatalf("attaching to node: %v", err)
			}
			defer node.Close(cmd.Context())

			endpoints, err := node.Modules.GetPrefixEndpoints(cmd.Context(), args[0])
			if err != nil {
				log.Fatalf("listing prefix endpoints: %v", err)
			}
			if len(endpoints) == 0 {
				fmt.Println("(no endpoints announced)")
				return
			}
			for _, ep := range endpoints {
				fmt.Println(ep)
			}
		},
	})
	return cmd
}
