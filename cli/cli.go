// Package cli provides the command-line interface for vpn-pool.
// Every entry point (one-shot connect, API server, TUI) is a cobra
// command sharing the same configuration and wiring.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/yllada/vpn-pool/common"
	"github.com/yllada/vpn-pool/config"
)

// BuildInfo is injected by main from ldflags.
type BuildInfo struct {
	Version   string
	BuildTime string
	Commit    string
}

// Command annotations.
const (
	// skipConfig marks commands that must run without loading the configuration.
	skipConfig = "skip-config"
	// quietConsole keeps log lines off the terminal.
	quietConsole = "quiet-console"
)

// app holds state shared by all commands of one invocation.
type app struct {
	build      BuildInfo
	configPath string
	verbose    bool

	cfg *config.Config
	// console receives application log lines; nil keeps stdout.
	console io.Writer
}

// NewRootCommand builds the vpn-pool command tree.
func NewRootCommand(build BuildInfo) *cobra.Command {
	a := &app{build: build}

	root := &cobra.Command{
		Use:   common.AppName,
		Short: "Single-tunnel VPN manager over a pool of OpenVPN profiles",
		Long: `vpn-pool discovers OpenVPN profiles in a directory and keeps at most one
tunnel up at a time, tearing it down when the client process dies.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipConfig] == "true" {
				return nil
			}
			if cmd.Annotations[quietConsole] == "true" {
				a.console = io.Discard
			}
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			common.CloseLogger()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file path (default ~/.config/vpn-pool/config.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(
		a.newListCommand(),
		a.newConnectCommand(),
		a.newServeCommand(),
		a.newTUICommand(),
		a.newHistoryCommand(),
		a.newCredentialsCommand(),
		a.newConfigCommand(),
		a.newVersionCommand(),
	)

	return root
}

// Execute runs the root command and returns the process exit code.
func Execute(build BuildInfo) int {
	if err := NewRootCommand(build).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// init loads the configuration and initializes the logger.
func (a *app) init() error {
	path := a.configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, err := common.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	if a.verbose {
		level = common.LevelDebug
	}

	if err := common.InitLogger(common.LogConfig{
		Level:       level,
		Dir:         cfg.LogDir,
		EnableFile:  cfg.LogToFile,
		MaxFileSize: 5 * 1024 * 1024, // 5MB
		MaxBackups:  5,
		Console:     a.console,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	common.LogDebug("Configuration loaded from %s", path)
	return nil
}

var errTunnelLost = errors.New("tunnel lost")
