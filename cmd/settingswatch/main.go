package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/highbeam/settingswatch/internal/config"
	"github.com/highbeam/settingswatch/internal/daemon"
	"github.com/highbeam/settingswatch/internal/gitint"
	"github.com/highbeam/settingswatch/internal/ipc"
	"github.com/highbeam/settingswatch/internal/report"
	"github.com/highbeam/settingswatch/internal/settings"
	"github.com/highbeam/settingswatch/internal/watcher"
)

var (
	configPath string
	debugFlag  bool
	hesitation time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "settingswatch",
		Short:        "Watch a settings file and reload it when it changes",
		Long:         "settingswatch is a daemon that watches one settings file, reports each burst of edits once after a quiet period, and keeps a history of every reload.",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.ConfigPath(), "Path to the config file")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging and watcher traces")
	rootCmd.PersistentFlags().DurationVar(&hesitation, "hesitation", 0, "Quiet period before a change is reported (default from config, 1s)")

	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(pingCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(reloadCmd())
	rootCmd.AddCommand(debugCmd())
	rootCmd.AddCommand(watchCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug = debugFlag
	}
	if cmd.Flags().Changed("hesitation") {
		if err := applyHesitation(cfg, hesitation); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// applyHesitation sets cfg's quiet period from a --hesitation value. The
// config counts whole milliseconds, so anything shorter is rejected.
func applyHesitation(cfg *config.Config, d time.Duration) error {
	if d < time.Millisecond {
		return fmt.Errorf("--hesitation must be at least 1ms, got %s", d)
	}
	cfg.HesitationMS = int(d.Milliseconds())
	return nil
}

// newLogger returns a text logger on stderr and the level var that controls it.
func newLogger(debug bool) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	if debug {
		level.Set(slog.LevelDebug)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), level
}

func startCmd() *cobra.Command {
	var settingsPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the settingswatch daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if settingsPath != "" {
				cfg.SettingsPath = settingsPath
			}
			logger, level := newLogger(cfg.Debug)

			client := ipc.NewClient(cfg.SocketPath)
			if err := client.Ping(); err == nil {
				fmt.Println("daemon is already running")
				return nil
			}

			// Remove stale socket file (from a prior crash).
			if _, err := os.Stat(cfg.SocketPath); err == nil {
				logger.Info("removing stale socket file", "socket", cfg.SocketPath)
				_ = os.Remove(cfg.SocketPath)
			}

			// The server and daemon reference each other; the store is set
			// by the daemon once it is open.
			ipcServer := ipc.NewServer(nil, nil, logger)
			d := daemon.New(cfg, ipcServer, daemon.Options{Logger: logger, Level: level})
			ipcServer.SetDaemon(d)

			// Start blocks until signal or error.
			return d.Start()
		},
	}

	cmd.Flags().StringVar(&settingsPath, "settings", "", "Settings file to watch (overrides config)")

	return cmd
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the settingswatch daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			client := ipc.NewClient(cfg.SocketPath)
			if err := client.RequestStop(); err != nil {
				return fmt.Errorf("stop daemon: %w", err)
			}

			fmt.Println("daemon stopping")
			return nil
		},
	}
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check if daemon is alive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			client := ipc.NewClient(cfg.SocketPath)
			if err := client.Ping(); err != nil {
				fmt.Println("daemon is not running")
				return err
			}

			fmt.Println("daemon is alive")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			client := ipc.NewClient(cfg.SocketPath)
			status, err := client.Status()
			if err != nil {
				return fmt.Errorf("daemon not running or unreachable: %w", err)
			}

			if jsonOutput {
				fmt.Println(report.FormatJSON(status))
			} else {
				fmt.Print(report.FormatStatus(status))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func historyCmd() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
		dbPath     string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent reloads of the settings file",
		Long: `Show the reload history recorded by the daemon.

Reads the SQLite database directly -- the daemon does not need to be running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				dbPath = cfg.DBPath
			}

			h, err := report.GenerateHistory(dbPath, limit)
			if err != nil {
				return fmt.Errorf("generate history: %w", err)
			}

			if jsonOutput {
				fmt.Println(report.FormatJSON(h))
			} else {
				fmt.Print(report.FormatHistory(h))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of reloads to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (default: from config)")

	return cmd
}

func reloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload the settings file now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			client := ipc.NewClient(cfg.SocketPath)
			rec, err := client.Reload()
			if err != nil {
				return fmt.Errorf("reload: %w", err)
			}
			fmt.Println(report.FormatRecord(rec))
			return nil
		},
	}
}

func debugCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "debug on|off",
		Short:     "Turn daemon debug logging on or off",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var enabled bool
			switch args[0] {
			case "on":
				enabled = true
			case "off":
				enabled = false
			default:
				return fmt.Errorf("expected on or off, got %q", args[0])
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			client := ipc.NewClient(cfg.SocketPath)
			now, err := client.SetDebug(enabled)
			if err != nil {
				return fmt.Errorf("set debug: %w", err)
			}
			if now {
				fmt.Println("debug logging on")
			} else {
				fmt.Println("debug logging off")
			}
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	var load bool

	cmd := &cobra.Command{
		Use:   "watch <path>",
		Short: "Watch a file in the foreground and print each change",
		Long: `Watch a single file without the daemon and print one line each time
a burst of changes settles. With --load the file is also parsed and the
reload outcome is printed. Nothing is recorded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, _ := newLogger(cfg.Debug)

			session := watcher.New(watcher.Options{
				Logger:     logger,
				Hesitation: cfg.Hesitation(),
				Debug:      cfg.Debug,
			})
			defer session.Close()

			var reloader *settings.Reloader
			if load {
				var revisions settings.RevisionFunc
				if cfg.TrackGit {
					revisions = gitint.RevisionOf
				}
				reloader = settings.NewReloader(settings.ReloaderOptions{
					Path:      args[0],
					Logger:    logger,
					Revisions: revisions,
				})
				rec := reloader.Reload(settings.TriggerStartup)
				fmt.Println(report.FormatRecord(&rec))
			}

			session.OnFileChanged(func() {
				if reloader != nil {
					rec := reloader.Reload(settings.TriggerFileChanged)
					fmt.Println(report.FormatRecord(&rec))
					return
				}
				fmt.Printf("%s changed %s\n", time.Now().Format(time.RFC3339), session.Path())
			})

			session.Init(args[0])
			if st := session.State(); st != watcher.StateWatching {
				return fmt.Errorf("cannot watch %s: watcher %s", args[0], st)
			}
			fmt.Fprintf(os.Stderr, "watching %s (hesitation %s), ctrl-c to stop\n", session.Path(), session.Hesitation())

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().BoolVar(&load, "load", false, "Parse the file on each change and print the reload outcome")

	return cmd
}
