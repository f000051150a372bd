// Command voxmem is a voice assistant that remembers every conversation.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MrWong99/voxmem/internal/app"
	"github.com/MrWong99/voxmem/internal/config"
	"github.com/MrWong99/voxmem/internal/observe"
)

// Set by ldflags.
var (
	version = "dev"
	commit  = "none"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "voxmem: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFile    string
}

func rootCmd() *cobra.Command {
	var flags globalFlags
	root := &cobra.Command{
		Use:           "voxmem",
		Short:         "A voice assistant with long-term semantic memory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before the configuration")

	root.AddCommand(
		runCmd(&flags),
		searchCmd(&flags),
		statsCmd(&flags),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "voxmem %s (commit: %s)\n", version, commit)
		},
	}
}

func runCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the voice session and, if configured, the HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			slog.SetDefault(newLogger(cfg.Server.LogLevel))
			slog.Info("voxmem starting",
				"version", version,
				"config", flags.configPath,
				"listen_addr", cfg.Server.ListenAddr,
				"log_level", cfg.Server.LogLevel,
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// ── Telemetry ─────────────────────────────────────────────────────
			pcfg := observe.ProviderConfig{ServiceVersion: version}
			if cfg.Server.OTLPEndpoint != "" {
				if pcfg.TraceExporter, err = observe.NewOTLPExporter(ctx, cfg.Server.OTLPEndpoint); err != nil {
					return err
				}
			}
			shutdownOTel, err := observe.InitProvider(ctx, pcfg)
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := shutdownOTel(sctx); err != nil {
					slog.Warn("telemetry shutdown error", "err", err)
				}
			}()
			metrics := observe.DefaultMetrics()

			// ── Providers ─────────────────────────────────────────────────────
			reg := config.NewRegistry()
			app.RegisterBuiltinProviders(reg, app.Console{In: os.Stdin, Out: os.Stdout})
			providers, err := app.BuildProviders(cfg, reg, metrics)
			if err != nil {
				return err
			}

			printStartupSummary(cmd, cfg)

			application, err := app.New(ctx, cfg, providers, app.WithMetrics(metrics), app.WithLogger(slog.Default()))
			if err != nil {
				providers.Close()
				return err
			}

			slog.Info("ready, press Ctrl+C to shut down")
			runErr := application.Run(ctx)
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				slog.Error("run error", "err", runErr)
			}

			// ── Graceful shutdown ─────────────────────────────────────────────
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := application.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			slog.Info("goodbye")
			if errors.Is(runErr, context.Canceled) {
				return nil
			}
			return runErr
		},
	}
}

// loadConfig reads the dotenv file, when present, and then the configuration.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	if flags.envFile != "" {
		if err := godotenv.Load(flags.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", flags.envFile, err)
		}
	}
	cfg, err := config.Load(flags.configPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found, copy config.example.yaml to get started", flags.configPath)
	}
	return cfg, err
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cmd *cobra.Command, cfg *config.Config) {
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║         voxmem — startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	row := func(label, value string) {
		if len(value) > 19 {
			value = value[:16] + "…"
		}
		fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", label, value)
	}
	provider := func(e config.ProviderEntry) string {
		switch {
		case e.Name == "":
			return "(not configured)"
		case e.Model != "":
			return e.Name + " / " + e.Model
		default:
			return e.Name
		}
	}
	row("LLM", provider(cfg.Providers.LLM))
	row("Fallbacks", fmt.Sprint(len(cfg.Providers.LLMFallbacks)))
	row("Embeddings", provider(cfg.Providers.Embeddings))
	row("STT", provider(cfg.Providers.STT))
	row("TTS", provider(cfg.Providers.TTS))
	row("Wake", provider(cfg.Providers.Wake))
	row("Memory", string(cfg.Memory.Backend))
	row("Dimensions", fmt.Sprint(cfg.Memory.Dimensions))
	if cfg.Server.ListenAddr != "" {
		row("Listen addr", cfg.Server.ListenAddr)
	} else {
		row("Gateway", "(disabled)")
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
