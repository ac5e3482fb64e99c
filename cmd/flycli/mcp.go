package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"pkt.systems/pslog"

	"github.com/standardbeagle/flycli/internal/config"
	"github.com/standardbeagle/flycli/internal/sandbox"
	"github.com/standardbeagle/flycli/internal/terminal"
	"github.com/standardbeagle/flycli/internal/tools"
)

func newMCPCmd() *cobra.Command {
	var allowExec bool
	cmd := &cobra.Command{
		Use:   "mcp [workspace]",
		Short: "Serve the workspace tools over MCP on stdio",
		Long: `Serve the same bounded workspace tools the panel agent uses to an MCP client
such as an editor agent. Logs go to stderr; stdout carries the protocol.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := workspaceFromArgs(args)
			if err != nil {
				return err
			}
			// Resolve the config file relative to the served workspace.
			flags := pflag.NewFlagSet("mcp", pflag.ContinueOnError)
			flags.String(config.KeyWorkspace, dir, "")
			cfg, err := config.Load(flags)
			if err != nil {
				return err
			}
			ws, err := sandbox.New(cfg.Workspace, sandbox.Options{
				SearchTimeout:  cfg.Tools.SearchTimeout,
				DisableRipgrep: !cfg.Tools.Ripgrep,
			})
			if err != nil {
				return err
			}

			opts := tools.Options{Name: appName, Version: appVersion}
			if allowExec {
				opts.Executor = terminal.NewExecutor(cfg.Workspace, cfg.Tools.ExecTimeout)
			}
			pslog.Ctx(cmd.Context()).Info("serving MCP", "workspace", ws.Root(), "runCommand", allowExec)
			return tools.Serve(cmd.Context(), tools.NewServer(ws, opts))
		},
	}
	cmd.Flags().BoolVar(&allowExec, "allow-exec", false, "Expose the runCommand tool")
	return cmd
}
