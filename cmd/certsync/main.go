// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Command certsync uploads locally issued TLS certificates to a CDN
// whenever the CDN's copy differs from the local one.
package main

import (
	"context"
	"os"
	"slices"
	"strings"

	"cloudeng.io/cmdutil/subcmd"
)

const cmdSpec = `name: certsync
summary: certsync keeps the TLS certificates held by a CDN in sync with those issued locally.
commands:
  - name: reconcile
    summary: compare every certificate held by the CDN with the local one and upload those that differ, this is the default command.
  - name: log
    summary: display the log of certificate update attempts.
  - name: serve
    summary: run an HTTP server that provides the log, on-demand and optionally periodic reconciliation.
`

func cli() *subcmd.CommandSetYAML {
	cmd := subcmd.MustFromYAML(cmdSpec)
	c := &commands{out: os.Stdout}
	cmd.Set("reconcile").MustRunner(c.reconcile, &reconcileFlags{})
	cmd.Set("log").MustRunner(c.log, &logFlags{})
	cmd.Set("serve").MustRunner(c.serve, &serveFlags{})
	return cmd
}

// withDefaultCommand inserts the reconcile command when no command,
// only flags, is specified.
func withDefaultCommand(args []string) []string {
	if len(args) > 1 {
		switch first := args[1]; {
		case !strings.HasPrefix(first, "-"):
			return args
		case first == "-h", first == "-help", first == "--help":
			return args
		}
	}
	return slices.Insert(slices.Clone(args), 1, "reconcile")
}

func main() {
	os.Args = withDefaultCommand(os.Args)
	subcmd.Dispatch(context.Background(), cli())
}
