package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/collarlink/relay-server/internal/app"
	"github.com/collarlink/relay-server/internal/auth"
	"github.com/collarlink/relay-server/internal/config"
	"github.com/collarlink/relay-server/internal/log"
	"github.com/collarlink/relay-server/internal/store"
	"github.com/collarlink/relay-server/internal/store/sqlite"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "relay-server",
		Short:         "Relay hub between collar hardware and app clients",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newDeviceTokenCmd(&configPath))
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New("info", true)

			cfg, path, err := config.Load(logger, *configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg.UpdateFrom(config.Config{Addr: addr})

			logger = log.New(cfg.LogLevel, cfg.ConsoleLog)
			logger.Info().Str("config", path).Str("addr", cfg.Addr).Msg("starting relay server")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(&cfg, logger)
			if err != nil {
				return err
			}
			if err := application.Run(ctx); err != nil {
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	return cmd
}

func newDeviceTokenCmd(configPath *string) *cobra.Command {
	var (
		deviceID string
		name     string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "device-token",
		Short: "Provision a device and mint its credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			if deviceID == "" {
				return errors.New("--id is required")
			}

			logger := log.Nop()
			cfg, _, err := config.Load(logger, *configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.DeviceSecret == "" {
				return errors.New("device_secret is not configured")
			}

			st, err := sqlite.New(cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			if _, err := st.CreateDevice(cmd.Context(), deviceID, name); err != nil && !errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("provision device: %w", err)
			}

			token, err := auth.MintDeviceToken([]byte(cfg.DeviceSecret), cfg.DeviceIssuer, deviceID, ttl)
			if err != nil {
				return fmt.Errorf("mint token: %w", err)
			}

			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&deviceID, "id", "", "device identifier")
	cmd.Flags().StringVar(&name, "name", "", "human-readable device name")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "credential lifetime (0 = no expiry)")
	return cmd
}
