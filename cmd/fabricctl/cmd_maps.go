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

func newMapsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maps",
		Short: "Inspect the physical replicas mapped to an endpoint (C3 Endpoint Map)",
	}
	cmd.AddCommand(newMapsGetCmd())
	return cmd
}

func newMapsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <endpoint>",
		Short: "List the physical addresses currently mapped to endpoint",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			node, err := attach(cmd.Context())
			if err != nil {
				log.Fatalf("attaching to node: %v", err)
			}
			defer node.Close(cmd.Context())

			endpoint := fabrictypes.EndpointAddress(args[0])
			addrs, err := node.EndpointMap.GetMaps(cmd.Context(), endpoint)
			if err != nil {
				log.Fatalf("getting maps: %v", err)
			}
			if len(addrs) == 0 {
				fmt.Println("(no replicas mapped)")
				return
			}
			for _, a := range addrs {
				fmt.Println(a.String())
			}
		},
	}
}
