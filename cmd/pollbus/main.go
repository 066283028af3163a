package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/pollbus/internal/cmd/client"
	serverrun "github.com/rzbill/pollbus/internal/cmd/server"
	cfgpkg "github.com/rzbill/pollbus/internal/config"
	logpkg "github.com/rzbill/pollbus/pkg/log"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pollbus",
		Short: "pollbus real-time notification bus",
		Long:  "pollbus stores messages per channel and wakes long polls across processes. This CLI runs the server and talks to it.",
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start pollbus server (gRPC and HTTP)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{Config: cfg}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	f := serverStartCmd.Flags()
	f.String("config", os.Getenv("POLLBUS_CONFIG"), "Config file (.json, .yaml)")
	f.String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	f.String("grpc", "", "gRPC listen address (default :50051)")
	f.String("http", "", "HTTP listen address (default :8080)")
	f.String("fsync", "", "Fsync mode: always|interval|never")
	f.String("store", "", "Message log backend: pebble|postgres")
	f.String("store-dsn", "", "PostgreSQL DSN for the postgres store")
	f.String("notify", "", "Notification transport: memory|postgres|gossip")
	f.StringSlice("peer", nil, "Gossip bootstrap peer multiaddr (repeatable)")
	f.Bool("mdns", false, "Discover gossip peers on the local network")
	f.String("log-level", "", "Log level: debug|info|warn|error")
	f.String("log-format", "", "Log format: text|json")
	serverCmd.AddCommand(serverStartCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), cfg)
		},
	}
	configCmd.Flags().AddFlagSet(serverStartCmd.Flags())
	serverCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serverCmd)

	clientcmd.AddCommands(rootCmd, apiURL)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers defaults, the config file, POLLBUS_* variables and then
// explicit flags.
func loadConfig(cmd *cobra.Command) (cfgpkg.Config, error) {
	fl := cmd.Flags()
	path, _ := fl.GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfg, err
	}
	cfgpkg.FromEnv(&cfg)

	str := func(name string, dst *string) {
		if fl.Changed(name) {
			*dst, _ = fl.GetString(name)
		}
	}
	str("data-dir", &cfg.DataDir)
	str("grpc", &cfg.GRPCAddr)
	str("http", &cfg.HTTPAddr)
	str("fsync", &cfg.Fsync)
	str("store", &cfg.Store.Driver)
	str("store-dsn", &cfg.Store.DSN)
	str("notify", &cfg.Transport.Kind)
	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)
	if fl.Changed("peer") {
		cfg.Transport.Bootstrap, _ = fl.GetStringSlice("peer")
	}
	if fl.Changed("mdns") {
		cfg.Transport.MDNS, _ = fl.GetBool("mdns")
	}
	if _, err := logpkg.ParseLevel(cfg.Log.Level); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func apiURL() string {
	if v := os.Getenv("POLLBUS_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
