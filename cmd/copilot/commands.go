package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/salescopilot/internal/app"
	"github.com/MrWong99/salescopilot/internal/config"
	"github.com/MrWong99/salescopilot/internal/copilot"
	"github.com/MrWong99/salescopilot/internal/observe"
	"github.com/MrWong99/salescopilot/pkg/audio/capture"
)

// shutdownTimeout bounds the graceful shutdown after a run.
const shutdownTimeout = 15 * time.Second

// cli holds the state shared by all commands.
type cli struct {
	configPath string
	logLevel   string
	sessionID  string
	report     bool

	cfg   *config.Config
	level *slog.LevelVar
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "copilot",
		Short:         "Stream sales calls to the transcription service and surface assistance",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load()
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to the YAML configuration file (defaults plus COPILOT_* env when empty)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")

	root.AddCommand(
		c.liveCmd(),
		c.playCmd(),
		c.agentsCmd(),
		c.leadsCmd(),
		c.reportCmd(),
		c.devicesCmd(),
	)
	return root
}

// load reads the configuration and installs the logger.
func (c *cli) load() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", c.configPath)
		}
		return err
	}
	if err := c.applyFlags(cfg); err != nil {
		return err
	}
	c.cfg = cfg
	c.level = newLogger(cfg.Server.LogLevel)
	return nil
}

// applyFlags applies command-line overrides to cfg.
func (c *cli) applyFlags(cfg *config.Config) error {
	if c.logLevel == "" {
		return nil
	}
	lvl := config.LogLevel(c.logLevel)
	if !lvl.IsValid() {
		return fmt.Errorf("invalid --log-level %q", c.logLevel)
	}
	cfg.Server.LogLevel = lvl
	return nil
}

func (c *cli) liveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Stream the microphone until interrupted",
		Long: `Capture the configured microphone, resample it to 16 kHz PCM16 and stream it
to the transcription service. Transcript lines and assistance are printed as
they arrive. Press Ctrl+C to end the call.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.stream(func(ctx context.Context, a *app.App) error {
				return a.RunLive(ctx)
			})
		},
	}
	c.streamFlags(cmd)
	return cmd
}

func (c *cli) playCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play <file>",
		Short: "Stream a recorded call as if it were live",
		Long: `Decode a WAV, MP3, FLAC or Ogg Vorbis file, resample it to 16 kHz and stream it
in real-time paced chunks. Only final transcripts are printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.stream(func(ctx context.Context, a *app.App) error {
				return a.RunPlayback(ctx, args[0])
			})
		},
	}
	c.streamFlags(cmd)
	return cmd
}

func (c *cli) streamFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.sessionID, "session-id", "", "session id to use instead of a random UUID")
	cmd.Flags().BoolVar(&c.report, "report", false, "request the end-of-call report when the session ends")
}

// stream runs one streaming session with the ops server and the config
// watcher around it.
func (c *cli) stream(run func(context.Context, *app.App) error) error {
	ctx, stop := signalContext()
	defer stop()

	prov, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	opts := []app.Option{app.WithLevelVar(c.level)}
	if c.sessionID != "" {
		id := c.sessionID
		opts = append(opts, app.WithIDFunc(func() string { return id }))
	}
	a, err := app.New(c.cfg, opts...)
	if err != nil {
		return err
	}

	if c.configPath != "" {
		w, err := config.NewWatcher(c.configPath, func(_, next *config.Config) {
			if err := c.applyFlags(next); err != nil {
				slog.Warn("config reload: flag override", "err", err)
			}
			a.ApplyConfig(a.Config(), next)
		})
		if err != nil {
			return err
		}
		defer w.Stop()
		reloadOnHangup(ctx, w.Reload)
	}

	ops := startOps(c.cfg.Server, prov, a.HealthCheckers())

	slog.Info("copilot starting",
		"session_id", a.SessionID(),
		"transport", c.cfg.Transport.URL,
		"api", c.cfg.Copilot.APIURL,
		"agent", c.cfg.Session.Agent.Name,
		"lead", c.cfg.Session.Lead.Name,
		"trigger", c.cfg.Trigger.Phrase,
	)

	runErr := run(ctx, a)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown error", "err", err)
	}
	if c.report {
		if err := printReport(shutdownCtx, a.Client(), a.SessionID()); err != nil {
			slog.Error("report failed", "err", err)
		}
	}
	ops.shutdown(shutdownCtx)
	if err := prov.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	fmt.Printf("session id: %s\n", a.SessionID())
	return runErr
}

func (c *cli) agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the agents known to the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			agents, err := client.Agents(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME")
			for _, ag := range agents {
				fmt.Fprintf(tw, "%s\t%s\n", ag.ID, ag.Name)
			}
			return tw.Flush()
		},
	}
}

func (c *cli) leadsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leads <agent-id>",
		Short: "List the leads assigned to an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			leads, err := client.Leads(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME")
			for _, l := range leads {
				fmt.Fprintf(tw, "%s\t%s\n", l.ID, l.Name)
			}
			return tw.Flush()
		},
	}
}

func (c *cli) reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report <session-id>",
		Short: "Request the end-of-call report for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			return printReport(cmd.Context(), client, args[0])
		},
	}
}

func (c *cli) devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List capture devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := capture.Devices()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

// client builds the REST client from the loaded configuration.
func (c *cli) client() (*copilot.Client, error) {
	return app.NewCopilotClient(c.cfg.Copilot, nil)
}

func printReport(ctx context.Context, client *copilot.Client, sessionID string) error {
	r, err := client.EndCall(ctx, sessionID)
	if err != nil {
		return err
	}
	fmt.Println(copilot.FormatReport(r))
	return nil
}
