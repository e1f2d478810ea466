// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the argo CLI: an interactive agent with web,
// knowledge and MCP tools.
package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jllopis/argo/pkg/audit"
	"github.com/jllopis/argo/pkg/config"
	"github.com/jllopis/argo/pkg/mcp"
)

var version = "dev"

// errReported is returned by commands that already printed their failure.
var errReported = stderrors.New("error already reported")

type rootOptions struct {
	configPath string
	profile    string
	sets       []string
	json       bool
}

func (o *rootOptions) source() config.Source {
	return config.Source{Path: o.configPath, Profile: o.profile, Sets: o.sets}
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := o.source().Load()
	if err != nil {
		return nil, NewConfigError(err, o.configPath)
	}
	return cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "argo",
		Short:         "Run an agent that picks a skill for every turn",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to the configuration file")
	flags.StringVar(&opts.profile, "profile", "", "configuration profile overlay, e.g. dev or prod")
	flags.StringArrayVar(&opts.sets, "set", nil, "override a config key (key=value, repeatable)")
	flags.BoolVar(&opts.json, "json", false, "JSON output")

	root.AddCommand(
		newChatCmd(opts),
		newSkillsCmd(opts),
		newAuditCmd(opts),
		newMCPCmd(opts),
	)

	reportErrors(root, opts)
	return root
}

// reportErrors makes every command print its error with hints and colors.
func reportErrors(cmd *cobra.Command, opts *rootOptions) {
	for _, sub := range cmd.Commands() {
		reportErrors(sub, opts)
	}
	run := cmd.RunE
	if run == nil {
		return
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		err := run(cmd, args)
		if err != nil && !stderrors.Is(err, errReported) {
			var cliErr *CLIError
			if !stderrors.As(err, &cliErr) {
				cliErr = NewCLIError(err, "")
			}
			cliErr.PrintError(cmd.ErrOrStderr(), opts.json)
		}
		return err
	}
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the agent",
		Long: `Start an interactive session. With a message argument, run a single
turn and exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			p := &printer{out: cmd.OutOrStdout()}
			a, err := newApp(ctx, cfg, appDeps{callback: p.chunk, logOutput: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			session := &chatSession{app: a, print: p, errOut: cmd.ErrOrStderr()}
			if len(args) > 0 {
				if !session.turn(ctx, strings.Join(args, " ")) {
					return errReported
				}
				return nil
			}

			stopWatch, err := a.watchLogLevel(ctx, opts.source())
			if err != nil {
				return err
			}
			defer stopWatch()
			return session.run(ctx, cmd.InOrStdin())
		},
	}
}

func newSkillsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "skills",
		Short: "List the skills and tools of the configured agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, appDeps{logOutput: cmd.ErrOrStderr(), skipTelemetry: true})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, bold("Skills"))
			for _, s := range a.agent.Skills() {
				fmt.Fprintf(out, "  %s  %s\n", cyan(s.Name()), s.Description())
				for _, r := range s.Requires() {
					fmt.Fprintf(out, "      requires %s\n", r.Name())
				}
			}
			fmt.Fprintln(out, bold("Tools"))
			for _, t := range a.agent.Tools() {
				var params []string
				for _, p := range t.Parameters() {
					name := p.Name
					if !p.Required {
						name += "?"
					}
					params = append(params, name)
				}
				fmt.Fprintf(out, "  %s(%s)  %s\n", cyan(t.Name()), strings.Join(params, ", "), t.Description())
			}
			return nil
		},
	}
}

func newAuditCmd(opts *rootOptions) *cobra.Command {
	var filter audit.Filter
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recorded turns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Audit.Driver != "sqlite" {
				return fmt.Errorf("audit driver %q keeps no records between runs", cfg.Audit.Driver)
			}
			rec, err := audit.OpenSQLite(cfg.Audit.DSN)
			if err != nil {
				return err
			}
			defer rec.Close()

			turns, err := rec.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(turns)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tAGENT\tSKILL\tSTATUS\tMESSAGES\tCOMMITTED\tDURATION\tERROR")
			for _, t := range turns {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%t\t%s\t%s\n",
					t.StartedAt.UTC().Format(time.RFC3339), t.Agent, dash(t.Skill), t.Status,
					t.Messages, t.Committed, t.Duration().Round(time.Millisecond), dash(t.ErrorCode))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&filter.Agent, "agent", "", "only turns of this agent")
	cmd.Flags().StringVar(&filter.Skill, "skill", "", "only turns handled by this skill")
	cmd.Flags().StringVar(&filter.Status, "status", "", "only turns with this status")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "maximum number of turns")
	return cmd
}

func newMCPCmd(opts *rootOptions) *cobra.Command {
	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "Model Context Protocol commands",
	}
	mcpCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the agent's tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, appDeps{logOutput: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			srv, err := newToolServer(a)
			if err != nil {
				return err
			}
			return srv.ServeStdio()
		},
	})
	return mcpCmd
}

// newToolServer exposes every tool of a over MCP.
func newToolServer(a *app) (*mcp.Server, error) {
	srv := mcp.NewServer(a.agent.Name(), version)
	for _, t := range a.agent.Tools() {
		if err := srv.RegisterTool(t); err != nil {
			return nil, err
		}
	}
	return srv, nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
