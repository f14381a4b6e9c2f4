// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/routefabric/routefabric/fabrictypes"
)

var (
	sendPublish bool
	sendTimeout time.Duration
)

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <route> <payload>",
		Short: "Resolve route through the Route Registry and send payload",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			node, err := attach(cmd.Context())
			if err != nil {
				log.Fatalf("attaching to node: %v", err)
			}
			defer node.Close(cmd.Context())

			ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
			defer cancel()

			route := fabrictypes.Route(args[0])
			results, err := node.Router.Route(ctx, []fabrictypes.Route{route}, []byte(args[1]), sendPublish)
			if err != nil {
				log.Fatalf("routing %s: %v", route, err)
			}
			if len(results) == 0 {
				fmt.Println("(no eligible target, nothing sent)")
				return
			}
			for _, r := range results {
				fmt.Printf("outcome=%s payload=%q\n", r.Outcome, r.Payload)
			}
		},
	}
	cmd.Flags().BoolVar(&sendPublish, "publish", false, "send to every registered target instead of just the first eligible one")
	cmd.Flags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "how long to wait for a handled response")
	return cmd
}
