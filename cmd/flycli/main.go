package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"pkt.systems/psi"
	"pkt.systems/pslog"

	"github.com/standardbeagle/flycli/internal/logx"
)

const appName = "flycli"

// appVersion is overridden at build time with -ldflags "-X main.appVersion=...".
var appVersion = "0.1.0"

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole, NoColor: !isConsole()}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		pslog.Ctx(ctx).With("err", err).Error(appName + " failed")
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   appName + " [flags] [-- dev-command...]",
		Short: "Coding agent control panel for your frontend dev server",
		Long: `flycli serves a browser control panel that drives a coding agent on your
machine, and forwards every other request to your development server on the
same port.

Run it next to an already running dev server:
  flycli --app-port 5173

Or let flycli start the dev server and detect its port:
  flycli -- npm run dev`,
		Version:       appVersion,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          runServer,
	}
	addServerFlags(root)

	root.AddCommand(newInitCmd())
	root.AddCommand(newMCPCmd())
	root.AddCommand(newVersionCmd())

	// Version template
	root.SetVersionTemplate(fmt.Sprintf("%s v%s\n", appName, appVersion))
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", appName, appVersion)
		},
	}
}

// isConsole reports whether logs go to a terminal.
func isConsole() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// useLogger replaces the context logger once the verbosity flags are known.
func useLogger(cmd *cobra.Command, verbose, silent bool) pslog.Logger {
	logger := logx.New(os.Stderr, isConsole(), verbose, silent)
	cmd.SetContext(pslog.ContextWithLogger(cmd.Context(), logger))
	log.SetOutput(pslog.LogLogger(logger).Writer())
	return logger
}
