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
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/routefabric/routefabric/fabricnode"
	"github.com/routefabric/routefabric/fabrictypes"
)

var watchInterval time.Duration

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <route>",
		Short: "Live-refresh a route's registered targets in a terminal UI",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			node, err := attach(cmd.Context())
			if err != nil {
				log.Fatalf("attaching to node: %v", err)
			}
			defer node.Close(cmd.Context())

			m := newWatchModel(cmd.Context(), node, fabrictypes.Route(args[0]), watchInterval)
			if _, err := tea.NewProgram(m).Run(); err != nil {
				log.Fatalf("watch: %v", err)
			}
		},
	}
	cmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "refresh cadence")
	return cmd
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	targetStyle = lipgloss.NewStyle().PaddingLeft(2)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).PaddingTop(1)
)

type tickMsg time.Time

type routesMsg struct {
	targets []fabrictypes.RouteTarget
	err     error
}

// watchModel is a bubbletea.Model that polls the Route Registry for a
// single route on an interval, the TUI convention this CLI borrows from
// the teacher's charmbracelet stack (declared in go.mod but otherwise
// only exercised here, since no interactive flow in the retrieved
// services/trace or cmd/aleutian sources needed one).
type watchModel struct {
	ctx      context.Context
	node     *fabricnode.Node
	route    fabrictypes.Route
	interval time.Duration

	targets []fabrictypes.RouteTarget
	err     error
}

func newWatchModel(ctx context.Context, node *fabricnode.Node, route fabrictypes.Route, interval time.Duration) watchModel {
	return watchModel{ctx: ctx, node: node, route: route, interval: interval}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.poll(), m.tick())
}

func (m watchModel) poll() tea.Cmd {
	return func() tea.Msg {
		targets, err := m.node.Registry.GetRoutes(m.ctx, m.route)
		return routesMsg{targets: targets, err: err}
	}
}

func (m watchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(m.poll(), m.tick())
	case routesMsg:
		m.targets, m.err = msg.targets, msg.err
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("route %s", m.route)))
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render(m.err.Error()))
		b.WriteString("\n")
	} else if len(m.targets) == 0 {
		b.WriteString(targetStyle.Render("(no targets registered)"))
		b.WriteString("\n")
	} else {
		for _, t := range m.targets {
			b.WriteString(targetStyle.Render(fmt.Sprintf("%-32s transient=%-5t publish_only=%-5t",
				t.Endpoint, t.Options.IsTransient(), t.Options.IsPublishOnly())))
			b.WriteString("\n")
		}
	}
	b.WriteString(helpStyle.Render("q to quit"))
	return b.String()
}
