package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"pkt.systems/pslog"

	"github.com/standardbeagle/flycli/internal/aichannel"
	"github.com/standardbeagle/flycli/internal/config"
	"github.com/standardbeagle/flycli/internal/filewatch"
	"github.com/standardbeagle/flycli/internal/panel"
	"github.com/standardbeagle/flycli/internal/process"
	"github.com/standardbeagle/flycli/internal/project"
	"github.com/standardbeagle/flycli/internal/proxy"
	"github.com/standardbeagle/flycli/internal/sandbox"
	"github.com/standardbeagle/flycli/internal/session"
	"github.com/standardbeagle/flycli/internal/terminal"
)

const (
	shutdownTimeout   = 10 * time.Second
	portDetectTimeout = 60 * time.Second

	// Per-session inbound throttle. Generous: the panel sends a handful of
	// messages per user action.
	inboundRate  = 20
	inboundBurst = 40
)

// ErrArgsWithoutDash is returned for positional arguments not after "--".
var ErrArgsWithoutDash = errors.New("the dev-server command must follow --, e.g. flycli -- npm run dev")

func addServerFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.IntP(config.KeyPort, "p", config.DefaultPort, "Port for the control panel and proxy")
	flags.IntP(config.KeyAppPort, "a", config.DefaultAppPort, "Port your application listens on (detected from the dev command when omitted)")
	flags.StringP(config.KeyWorkspace, "w", "", "Workspace root the agent may edit (default: current directory)")
	flags.BoolP(config.KeySilent, "s", false, "Only log warnings and errors, and skip the banner")
	flags.BoolP(config.KeyVerbose, "v", false, "Enable debug logging")
	flags.String("model", "", "Default model id, e.g. anthropic/claude-sonnet-4.5")
	flags.Int("max-steps", config.DefaultMaxSteps, "Maximum model steps per chat turn")
	flags.String(config.KeyPanelDir, "", "Serve the panel from this directory instead of the built-in one")
	flags.Bool("inject-launcher", false, "Inject a floating panel launcher into proxied HTML pages")
	flags.Bool("watch", false, "Push file list updates to the panel when workspace files change")
}

// wrappedCommand returns the arguments after "--".
func wrappedCommand(cmd *cobra.Command, args []string) ([]string, error) {
	dash := cmd.ArgsLenAtDash()
	if dash < 0 {
		if len(args) > 0 {
			return nil, ErrArgsWithoutDash
		}
		return nil, nil
	}
	if dash > 0 {
		return nil, ErrArgsWithoutDash
	}
	return args, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	wrapped, err := wrappedCommand(cmd, args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := useLogger(cmd, cfg.Verbose, cfg.Silent)
	ctx := cmd.Context()
	if cfg.File != "" {
		logger.Debug("loaded config file", "path", cfg.File)
	}

	ws, err := sandbox.New(cfg.Workspace, sandbox.Options{
		SearchTimeout:  cfg.Tools.SearchTimeout,
		DisableRipgrep: !cfg.Tools.Ripgrep,
	})
	if err != nil {
		return err
	}
	panelFS, err := panel.Open(cfg.PanelDir)
	if err != nil {
		return err
	}
	if !aichannel.IsProviderConfigured(aichannel.ProviderAnthropic) && !aichannel.IsProviderConfigured(aichannel.ProviderOpenRouter) {
		logger.Warn("no model provider configured; chat will fail until ANTHROPIC_API_KEY or OPENROUTER_API_KEY is set")
	}

	g, gctx := errgroup.WithContext(ctx)

	mgr := session.NewManager(gctx, session.Options{
		Generator:    aichannel.NewRouter(cfg.Agent.Model),
		Workspace:    ws,
		Executor:     terminal.NewExecutor(cfg.Workspace, cfg.Tools.ExecTimeout),
		Model:        cfg.Agent.Model,
		SystemPrompt: aichannel.SystemPrompt,
		MaxSteps:     cfg.Agent.MaxSteps,
		MaxTokens:    cfg.Agent.MaxTokens,
		Temperature:  cfg.Agent.Temperature,
		TurnTimeout:  cfg.Agent.TurnTimeout,
		InboundRate:  rate.Limit(inboundRate),
		InboundBurst: inboundBurst,
	})

	srv, err := proxy.New(proxy.Options{
		ListenPort:     cfg.Port,
		AppPort:        cfg.AppPort,
		Agent:          mgr,
		Panel:          panelFS,
		InjectLauncher: cfg.Proxy.InjectLauncher,
		Config:         cfg,
		Sessions:       mgr,
		DefaultModel:   cfg.Agent.Model,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(gctx); err != nil {
		return err
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := mgr.Shutdown(shutdownCtx); err != nil {
			logger.Warn("sessions did not close in time", "error", err)
		}
		if err := srv.Stop(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("stop server: %w", err)
		}
		return nil
	})

	if len(wrapped) > 0 {
		dev, err := startDevServer(gctx, g, cfg, srv, wrapped)
		if err != nil {
			return errors.Join(err, shutdown(srv, mgr))
		}
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return dev.Stop(stopCtx)
		})
	} else if !cfg.AppPortSet {
		suggestDevCommand(gctx, cfg.Workspace)
	}

	if cfg.Watch.Enabled {
		w := filewatch.New(ws, mgr, cfg.Watch.Debounce)
		g.Go(func() error { return w.Run(gctx) })
	}

	if !cfg.Silent {
		printBanner(cmd.OutOrStdout(), srv.Port(), srv.AppPort(), len(wrapped) > 0)
	}
	logger.Info("flycli ready", "port", srv.Port(), "appPort", srv.AppPort(), "workspace", cfg.Workspace)

	return g.Wait()
}

func shutdown(srv *proxy.Server, mgr *session.Manager) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(mgr.Shutdown(ctx), srv.Stop(ctx))
}

// startDevServer runs the wrapped command and, unless the app port was set
// explicitly, retargets the proxy at the port the command reports.
func startDevServer(ctx context.Context, g *errgroup.Group, cfg *config.Config, srv *proxy.Server, command []string) (*process.DevServer, error) {
	logger := pslog.Ctx(ctx).With("command", strings.Join(command, " "))
	dev, err := process.New(command, cfg.Workspace, os.Stdout)
	if err != nil {
		return nil, err
	}
	if err := dev.Start(ctx); err != nil {
		return nil, err
	}
	logger.Info("dev server started", "pid", dev.PID())

	if !cfg.AppPortSet {
		g.Go(func() error {
			port := dev.DetectPort(ctx, config.NewPortDetector(srv.Port()), portDetectTimeout)
			if port == 0 {
				if ctx.Err() == nil {
					logger.Warn("could not detect the dev server port; keeping app port", "appPort", srv.AppPort())
				}
				return nil
			}
			if port != srv.AppPort() {
				srv.SetAppPort(port)
			}
			logger.Info("app port detected", "appPort", port)
			return nil
		})
	}

	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-dev.Done():
			if ctx.Err() != nil {
				return nil
			}
			l := logger.With("exitCode", dev.ExitCode())
			if port := dev.PortConflict(); port > 0 {
				l = l.With("portInUse", port)
			}
			l.Warn("dev server exited; flycli keeps running")
		}
		return nil
	})
	return dev, nil
}

// suggestDevCommand logs how the dev server is usually started here.
func suggestDevCommand(ctx context.Context, workspace string) {
	logger := pslog.Ctx(ctx)
	proj, err := project.Detect(workspace)
	if err != nil {
		logger.Debug("no project detected", "error", err)
		return
	}
	command := proj.DevCommand()
	if command == nil {
		return
	}
	logger.Info("tip: let flycli start your dev server",
		"run", fmt.Sprintf("%s -- %s", appName, strings.Join(command, " ")),
		"framework", string(proj.Framework),
		"usualPort", proj.DefaultPort(),
	)
}

func printBanner(w io.Writer, port, appPort int, wrapped bool) {
	fmt.Fprintf(w, "\n  %s v%s\n\n", appName, appVersion)
	fmt.Fprintf(w, "  Toolbar:     http://localhost:%d\n", port)
	fmt.Fprintf(w, "  Proxying:    http://localhost:%d\n", appPort)
	if !wrapped {
		fmt.Fprintf(w, "\n  TIP: Make sure your development server is running on port %d.\n", appPort)
	}
	fmt.Fprintln(w)
}
