// focusctl queries and controls focusd.
//
// Read commands talk to the running daemon over its socket. When the
// daemon is not running they open the data directory read-only instead.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"focusd/internal/config"
	"focusd/internal/engine"
	"focusd/internal/ipc"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	socket     string
	dataDir    string
	format     string
	offline    bool
}

func rootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "focusctl",
		Short:        "focusctl - query and control focusd",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.format {
			case formatTable, formatJSON, formatYAML:
				return nil
			default:
				return fmt.Errorf("unknown output format %q (valid: table, json, yaml)", opts.format)
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config file (default: platform config dir)")
	flags.StringVar(&opts.socket, "socket", "", "daemon socket (overrides config)")
	flags.StringVar(&opts.dataDir, "data-dir", "", "data directory (overrides config)")
	flags.StringVarP(&opts.format, "format", "o", formatTable, "output format: table, json, yaml")
	flags.BoolVar(&opts.offline, "offline", false, "read the data directory directly even if the daemon is running")

	root.AddCommand(
		statusCmd(opts),
		appsCmd(opts),
		queryCmd(opts),
		reportCmd(opts),
		daysCmd(opts),
		exportCmd(opts),
		suspendCmd(opts),
		resumeCmd(opts),
		metricsCmd(opts),
		healthCmd(opts),
	)
	return root
}

func (o *options) config() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.socket != "" {
		cfg.IPC.SocketPath = o.socket
	}
	if o.dataDir != "" {
		cfg.Storage.DataDir = o.dataDir
	}
	return cfg, nil
}

// dial connects to the daemon. Commands that only make sense against a
// running daemon use it directly.
func (o *options) dial(ctx context.Context) (*ipc.IPCClient, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}
	client, err := ipc.Dial(ctx, ipc.DefaultClientConfig(cfg.IPC.SocketPath))
	if errors.Is(err, ipc.ErrDaemonNotRunning) {
		return nil, fmt.Errorf("focusd is not running (socket %s)", cfg.IPC.SocketPath)
	}
	return client, err
}

// openBackend returns the daemon when it answers and a read-only view of
// the data directory otherwise.
func (o *options) openBackend(ctx context.Context) (backend, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}

	if !o.offline {
		client, err := ipc.Dial(ctx, ipc.DefaultClientConfig(cfg.IPC.SocketPath))
		if err == nil {
			return client, nil
		}
		if !errors.Is(err, ipc.ErrDaemonNotRunning) {
			return nil, err
		}
	}
	return openLocal(cfg.Storage.DataDir)
}

func openLocal(dir string) (*localBackend, error) {
	e, err := engine.OpenReadOnly(dir)
	if err != nil {
		return nil, fmt.Errorf("open data directory %s: %w", dir, err)
	}
	return &localBackend{engine: e}, nil
}
