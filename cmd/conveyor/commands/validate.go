// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/conveyor-ci/conveyor/cmd/conveyor/cli"
	"github.com/conveyor-ci/conveyor/lib/workflow"
	"github.com/spf13/pflag"
)

func validateCommand() *cli.Command {
	var outputJSON bool

	return &cli.Command{
		Name:    "validate",
		Summary: "Check workflow definition files",
		Description: `Parse and validate one or more workflow definition files without
executing anything. Reports every issue found; exits non-zero if any
file is invalid.`,
		Usage: "conveyor validate <file>...",
		Examples: []cli.Example{
			{
				Description: "Validate every workflow in a directory",
				Command:     "conveyor validate .conveyor/*.yaml",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("validate", pflag.ContinueOnError)
			flags.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flags
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("at least one workflow file is required")
			}

			type fileReport struct {
				File   string   `json:"file"`
				Name   string   `json:"name,omitempty"`
				Issues []string `json:"issues"`
			}

			var reports []fileReport
			invalid := 0
			for _, path := range args {
				report := fileReport{File: path, Issues: []string{}}
				def, err := workflow.ReadFile(path)
				if err != nil {
					report.Issues = append(report.Issues, err.Error())
				} else {
					report.Name = def.Name
					report.Issues = append(report.Issues, def.Validate()...)
				}
				if len(report.Issues) > 0 {
					invalid++
				}
				reports = append(reports, report)
			}

			if outputJSON {
				if err := cli.WriteJSON(reports); err != nil {
					return err
				}
			} else {
				for _, report := range reports {
					if len(report.Issues) == 0 {
						fmt.Printf("%s: ok (%s)\n", report.File, report.Name)
						continue
					}
					fmt.Printf("%s: invalid\n", report.File)
					for _, issue := range report.Issues {
						fmt.Printf("  %s\n", issue)
					}
				}
			}

			if invalid > 0 {
				return fmt.Errorf("%d of %d files invalid", invalid, len(args))
			}
			return nil
		},
	}
}
