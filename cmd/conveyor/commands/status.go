// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/conveyor-ci/conveyor/cmd/conveyor/cli"
	"github.com/spf13/pflag"
)

func workflowsCommand() *cli.Command {
	var (
		socket     string
		outputJSON bool
	)

	return &cli.Command{
		Name:    "workflows",
		Summary: "List workflows loaded by the engine",
		Usage:   "conveyor workflows [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("workflows", pflag.ContinueOnError)
			flags.StringVar(&socket, "socket", "", "control socket path (default: $CONVEYOR_SOCKET)")
			flags.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flags
		},
		Run: func(args []string) error {
			ctx, cancel := callContext()
			defer cancel()

			response, err := engineClient(socket).Workflows(ctx)
			if err != nil {
				return err
			}

			if outputJSON {
				return cli.WriteJSON(response.Workflows)
			}
			if len(response.Workflows) == 0 {
				fmt.Println("no workflows loaded")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTRIGGERS\tJOBS")
			for _, info := range response.Workflows {
				fmt.Fprintf(tw, "%s\t%s\t%s\n",
					info.Name,
					orDash(strings.Join(info.Triggers, ", ")),
					strings.Join(info.Jobs, ", "),
				)
			}
			return tw.Flush()
		},
	}
}

func activeCommand() *cli.Command {
	var (
		socket     string
		outputJSON bool
	)

	return &cli.Command{
		Name:    "active",
		Summary: "Show held concurrency groups",
		Description: `Snapshot the engine's concurrency controller: each held group key and
the run currently holding it.`,
		Usage: "conveyor active [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("active", pflag.ContinueOnError)
			flags.StringVar(&socket, "socket", "", "control socket path (default: $CONVEYOR_SOCKET)")
			flags.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flags
		},
		Run: func(args []string) error {
			ctx, cancel := callContext()
			defer cancel()

			response, err := engineClient(socket).ActiveGroups(ctx)
			if err != nil {
				return err
			}

			if outputJSON {
				return cli.WriteJSON(response.Groups)
			}
			if len(response.Groups) == 0 {
				fmt.Println("no active groups")
				return nil
			}
			keys := make([]string, 0, len(response.Groups))
			for key := range response.Groups {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "GROUP\tRUN")
			for _, key := range keys {
				fmt.Fprintf(tw, "%s\t%s\n", key, response.Groups[key])
			}
			return tw.Flush()
		},
	}
}

func pingCommand() *cli.Command {
	var socket string

	return &cli.Command{
		Name:    "ping",
		Summary: "Check engine liveness",
		Usage:   "conveyor ping [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("ping", pflag.ContinueOnError)
			flags.StringVar(&socket, "socket", "", "control socket path (default: $CONVEYOR_SOCKET)")
			return flags
		},
		Run: func(args []string) error {
			ctx, cancel := callContext()
			defer cancel()

			response, err := engineClient(socket).Ping(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("engine %s at %s\n", response.Version, resolveSocket(socket))
			return nil
		},
	}
}
