// focusd records which application holds window focus and keeps the
// history in a local time-series store.
//
//	focusd init      Write the default config and rules files
//	focusd run       Track focus until interrupted
//	focusd version   Print version information
package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"focusd/internal/config"
	"focusd/internal/engine"
	"focusd/internal/rules"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "focusd",
		Short:        "focusd - window focus tracking daemon",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: platform config dir)")

	root.AddCommand(
		runCmd(&configPath),
		initCmd(&configPath),
		versionCmd(),
	)
	return root
}

func runCmd(configPath *string) *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Track window focus until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(*configPath)
			cfg, err := loader.Load()
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			d, err := newDaemon(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return d.run(ctx, loader)
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	return cmd
}

func initCmd(configPath *string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config and rules files",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *configPath
			if path == "" {
				path = config.ConfigPath()
			}
			return runInit(cmd, path, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

func runInit(cmd *cobra.Command, path string, force bool) error {
	out := cmd.OutOrStdout()

	var (
		cfg     *config.Config
		created bool
		err     error
	)
	if force {
		cfg = config.DefaultConfig()
		if err = config.Save(cfg, path); err != nil {
			return err
		}
		created = true
	} else if cfg, created, err = config.LoadOrCreate(path); err != nil {
		return err
	}
	if created {
		fmt.Fprintf(out, "Wrote config: %s\n", path)
	} else {
		fmt.Fprintf(out, "Config exists: %s\n", path)
	}

	if _, err := os.Stat(cfg.Rules.Path); force || os.IsNotExist(err) {
		if err := rules.Save(rules.Default(), cfg.Rules.Path); err != nil {
			return err
		}
		fmt.Fprintf(out, "Wrote rules:  %s\n", cfg.Rules.Path)
	} else {
		fmt.Fprintf(out, "Rules exist:  %s\n", cfg.Rules.Path)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Data dir:     %s\n", cfg.Storage.DataDir)
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "focusd %s\n", version)
			fmt.Fprintf(out, "  engine:   %s\n", engine.Version)
			fmt.Fprintf(out, "  go:       %s\n", runtime.Version())
			fmt.Fprintf(out, "  platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
