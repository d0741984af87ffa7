package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/yllada/vpn-pool/api"
	"github.com/yllada/vpn-pool/common"
	"github.com/yllada/vpn-pool/config"
	"github.com/yllada/vpn-pool/history"
	"github.com/yllada/vpn-pool/keyring"
	"github.com/yllada/vpn-pool/ui"
	"github.com/yllada/vpn-pool/vpn"
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (a *app) newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List discovered VPN profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := vpn.NewProfilePool(a.cfg.ProfilesDir, a.cfg.ProfileExt)
			if err != nil {
				return err
			}
			return printProfiles(cmd.OutOrStdout(), pool.List(), a.cfg.ProfilesDir)
		},
	}
}

func printProfiles(out io.Writer, profiles []vpn.Profile, dir string) error {
	if len(profiles) == 0 {
		fmt.Fprintf(out, "No configs found in %s\n", dir)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROFILE\tSTATUS\tPATH")
	fmt.Fprintln(w, "-------\t------\t----")
	for _, p := range profiles {
		status := "available"
		if p.Bound {
			status = "bound"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, status, p.Path)
	}
	return w.Flush()
}

func (a *app) newConnectCommand() *cobra.Command {
	var random bool

	cmd := &cobra.Command{
		Use:   "connect [PROFILE]",
		Short: "Bring a tunnel up and keep it until interrupted",
		Long: `Connect to the named profile, or to a random available profile when no
name is given or --random is set. The command stays in the foreground and
disconnects on SIGINT or SIGTERM.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rt, err := NewRuntime(a.cfg)
			if err != nil {
				return err
			}
			defer closeRuntime(rt)

			out := cmd.OutOrStdout()
			var profile string
			if random || len(args) == 0 {
				fmt.Fprintln(out, "Connecting to a random profile...")
				profile, err = rt.Manager.ConnectRandom(ctx)
			} else {
				profile = args[0]
				if !rt.Manager.Pool().Contains(profile) {
					return fmt.Errorf("%w: %s is not in %s (see '%s list')",
						vpn.ErrUnknownProfile, profile, rt.Manager.Pool().Dir(), common.AppName)
				}
				fmt.Fprintf(out, "Connecting to %s...\n", profile)
				err = rt.Manager.Connect(ctx, profile)
			}
			if err != nil {
				return fmt.Errorf("connection failed: %w", err)
			}

			st := rt.Manager.Status()
			fmt.Fprintf(out, "✓ Connected to %s (pid %d). Press Ctrl+C to disconnect.\n", profile, st.PID)

			return waitForTunnel(ctx, rt.Manager, out)
		},
	}

	cmd.Flags().BoolVarP(&random, "random", "r", false, "pick a random available profile")
	return cmd
}

// waitForTunnel blocks until ctx is done or the tunnel drops on its own.
func waitForTunnel(ctx context.Context, m *vpn.Manager, out io.Writer) error {
	for {
		changed := m.Changes()
		if m.State() == vpn.StateDisconnected {
			return fmt.Errorf("%w: the VPN client exited", errTunnelLost)
		}
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "Disconnecting...")
			return nil
		case <-changed:
		}
	}
}

func (a *app) newServeCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = a.cfg.Listen
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rt, err := NewRuntime(a.cfg)
			if err != nil {
				return err
			}

			server := &api.Server{Manager: rt.Manager, Metrics: rt.Metrics.Handler()}
			if rt.History != nil {
				server.History = rt.History
			}

			g, ctx := errgroup.WithContext(ctx)
			srv := &http.Server{
				Addr:              listen,
				Handler:           server.Router(),
				ReadHeaderTimeout: 10 * time.Second,
				// In-flight requests see the shutdown signal too.
				BaseContext: func(net.Listener) context.Context { return ctx },
			}

			g.Go(func() error {
				common.LogInfo("Control API listening on %s", listen)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				common.LogInfo("Shutting down...")

				// Tear the tunnel down first so a connect still in flight
				// returns and its handler can finish.
				closeCtx, cancelClose := context.WithTimeout(context.Background(), common.ShutdownTimeout)
				defer cancelClose()
				closeErr := rt.Manager.Close(closeCtx)

				shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), common.ShutdownTimeout)
				defer cancelShutdown()
				err := srv.Shutdown(shutdownCtx)
				return errors.Join(closeErr, err, rt.Close(shutdownCtx))
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (default from config)")
	return cmd
}

func (a *app) newTUICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Interactive terminal interface",
		Args:  cobra.NoArgs,
		// Log lines would corrupt the terminal UI; they still reach the log file.
		Annotations: map[string]string{quietConsole: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rt, err := NewRuntime(a.cfg)
			if err != nil {
				return err
			}
			defer closeRuntime(rt)

			return ui.Run(ctx, rt.Manager)
		},
	}
}

func (a *app) newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent connection events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.HistoryDB == "" {
				return errors.New("history is disabled (history_db is empty)")
			}
			store, err := history.Open(a.cfg.HistoryDB)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), entries)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events to show")
	return cmd
}

func printHistory(out io.Writer, entries []history.Entry) error {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No connection history.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tPROFILE\tEVENT\tDURATION\tDETAIL")
	for _, e := range entries {
		duration := "-"
		if e.Duration > 0 {
			duration = formatDuration(e.Duration)
		}
		detail := e.Detail
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.ProfileID, e.Kind, duration, detail)
	}
	return w.Flush()
}

func (a *app) newCredentialsCommand() *cobra.Command {
	var account string

	accountFor := func() string {
		if account != "" {
			return account
		}
		if a.cfg.KeyringAccount != "" {
			return a.cfg.KeyringAccount
		}
		return "default"
	}

	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage the VPN login stored in the system keyring",
	}
	cmd.PersistentFlags().StringVarP(&account, "account", "a", "", "keyring account (default from config)")

	cmd.AddCommand(&cobra.Command{
		Use:   "set",
		Short: "Store a username and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewReader(cmd.InOrStdin())
			out := cmd.OutOrStdout()

			fmt.Fprint(out, "Username: ")
			username, err := in.ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			username = strings.TrimSpace(username)

			fmt.Fprint(out, "Password: ")
			password, err := readPassword(cmd.InOrStdin(), in)
			fmt.Fprintln(out)
			if err != nil {
				return err
			}

			acct := accountFor()
			if err := keyring.StoreLogin(keyring.New(), acct, username, password); err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Credentials saved for %s\n", acct)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Remove the stored login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			acct := accountFor()
			if err := keyring.New().Delete(acct); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Credentials removed for %s\n", acct)
			return nil
		},
	})

	return cmd
}

// readPassword reads without echo from a terminal, or a plain line otherwise.
func readPassword(stdin io.Reader, buffered *bufio.Reader) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}

	line, err := buffered.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *app) newConfigCommand() *cobra.Command {
	var (
		output string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}

	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a configuration file with default settings",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := output
			if path == "" {
				path = a.configPath
			}
			if path == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				path = p
			}

			if common.FileExists(path) && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.DefaultConfig().Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&output, "output", "o", "", "output path (default --config or ~/.config/vpn-pool/config.yaml)")
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}

func (a *app) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s v%s\n", common.AppName, a.build.Version)
			if a.build.BuildTime != "" && a.build.BuildTime != "unknown" {
				fmt.Fprintf(out, "  Build:  %s\n", a.build.BuildTime)
				fmt.Fprintf(out, "  Commit: %s\n", a.build.Commit)
			}
		},
	}
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
