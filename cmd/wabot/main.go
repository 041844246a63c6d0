package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"wabot/internal/audit"
	"wabot/internal/channel"
	"wabot/internal/config"
	"wabot/internal/dispatch"
	"wabot/internal/domain"
	"wabot/internal/gateway"
	"wabot/internal/metrics"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:          "wabot",
		Short:        "WABot: command bot for a chat-api WhatsApp instance",
		Long:         "WABot receives chat-api webhooks and answers chat commands (chatid, file, ogg, geo, group).",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file, .json or .yaml (default: ~/.wabot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(dispatchCmd())
	root.AddCommand(auditCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// setupLogger applies the configured level and optional log file. The
// returned closer releases the log file.
func setupLogger(cfg *config.Config) (func() error, error) {
	var level slog.Level
	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	closer := func() error { return nil }
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return closer, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closer = f.Close
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	return closer, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			cfg.Gateway.Token = "${WABOT_TOKEN}"
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Println("Set gateway.apiBase and export WABOT_TOKEN, then run 'wabot serve'.")
			return nil
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newGateway(cfg *config.Config) (*gateway.Client, error) {
	if err := config.RequireGateway(cfg); err != nil {
		return nil, err
	}
	return gateway.FromConfig(cfg.Gateway, logger)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server",
		Long:  "Listens for chat-api webhook calls and replies to the first actionable message of each call. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	closeLog, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	gw, err := newGateway(cfg)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	webhookCfg := channel.WebhookConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		Path:         cfg.Server.Path,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Dispatcher:   dispatch.New(gw, logger),
		Logger:       logger,
	}

	if cfg.Audit.Enabled {
		store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
		if err != nil {
			return fmt.Errorf("action log: %w", err)
		}
		defer store.Close()
		webhookCfg.Recorder = store

		counts, err := store.Count(ctx)
		if err != nil {
			logger.Warn("cannot count action log entries", "err", err)
		}
		for status, n := range counts {
			metrics.ActionLogEntries(status).Set(n)
		}
		logger.Info("action log enabled", "path", cfg.Audit.DBPath, "ok", counts[audit.StatusOK], "failed", counts[audit.StatusFailed])
	}

	if cfg.Metrics.Enabled {
		webhookCfg.Metrics = metrics.Collector.Handler()
		webhookCfg.MetricsPath = cfg.Metrics.Endpoint
		logger.Info("metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	}

	webhook := channel.NewWebhook(webhookCfg)
	logger.Info("wabot started", "version", version, "gateway", cfg.Gateway.APIBase)
	if err := webhook.Start(ctx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func dispatchCmd() *cobra.Command {
	var (
		chatID string
		author string
		fromMe bool
	)
	cmd := &cobra.Command{
		Use:   "dispatch [text...]",
		Short: "Run one message through the command processor against the configured gateway",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			gw, err := newGateway(cfg)
			if err != nil {
				return fmt.Errorf("gateway: %w", err)
			}
			if author == "" {
				author = chatID
			}
			batch := domain.InboundBatch{{
				ChatID: chatID,
				Author: author,
				Body:   strings.Join(args, " "),
				FromMe: fromMe,
			}}

			out, err := dispatch.New(gw, logger).Dispatch(cmd.Context(), batch)
			if err != nil {
				return err
			}
			if !out.Acted {
				fmt.Fprintln(os.Stderr, "no action taken")
				return nil
			}
			fmt.Println(out.Result)
			return nil
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "chat id to reply to (e.g. 15551234567@c.us)")
	cmd.Flags().StringVar(&author, "author", "", "sender contact (defaults to --chat)")
	cmd.Flags().BoolVar(&fromMe, "from-me", false, "mark the message as sent by the bot itself")
	_ = cmd.MarkFlagRequired("chat")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wabot %s\n", version)
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. gateway.apiBase)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. server.port 9000)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if err := config.Update(cfgPath, args[0], args[1]); err != nil {
				return fmt.Errorf("update config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	var flat bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sanitized := config.Sanitize(cfg)
			if !flat {
				data, _ := json.MarshalIndent(sanitized, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			paths := config.ListPaths(sanitized)
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s = %v\n", k, paths[k])
			}
			return nil
		},
	}
	list.Flags().BoolVar(&flat, "flat", false, "print one dot path per line")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
