// Package main provides the CLI entry point for fileup.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/coinstash/fileup/internal/config"
	"github.com/coinstash/fileup/internal/identitystore"
	"github.com/coinstash/fileup/internal/logging"
	"github.com/coinstash/fileup/internal/metrics"
	"github.com/coinstash/fileup/internal/nettransport"
	"github.com/coinstash/fileup/internal/session"
	"github.com/coinstash/fileup/internal/wizard"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "fileup",
		Short: "fileup - secure chunked file-upload client",
		Long: `fileup bootstraps a client identity against a file-upload server
(registering or reconnecting as needed), negotiates a session key over
RSA, and streams a file as AES-CBC ciphertext in fixed-size chunks,
verifying an end-to-end checksum before confirming the transfer.`,
		Version: Version,
	}

	rootCmd.AddGroup(&cobra.Group{ID: "start", Title: "Getting Started:"})
	rootCmd.AddGroup(&cobra.Group{ID: "admin", Title: "Administration:"})

	run := runCmd()
	run.GroupID = "start"
	rootCmd.AddCommand(run)

	reg := registerCmd()
	reg.GroupID = "start"
	rootCmd.AddCommand(reg)

	wiz := wizardCmd()
	wiz.GroupID = "start"
	rootCmd.AddCommand(wiz)

	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// commonFlags are accepted by every subcommand that touches a working
// directory and configuration file.
type commonFlags struct {
	dataDir    string
	configPath string
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.dataDir, "data-dir", ".", "directory holding transfer.info, me.info and priv.key")
	cmd.Flags().StringVar(&f.configPath, "config", "fileup.yaml", "path to the ambient fileup.yaml configuration file")
}

func loadRuntime(f *commonFlags) (*config.Config, *identitystore.Store, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, nil, err
	}
	dir := f.dataDir
	if dir == "" || dir == "." {
		dir = cfg.DataDir
	}
	return cfg, identitystore.New(dir), nil
}

func runCmd() *cobra.Command {
	var flags commonFlags
	var rateLimit int64

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Register or reconnect, then send the configured file",
		Long: `run is fileup's default operation: it reads transfer.info, bootstraps
identity (reconnecting if me.info already names a registered client,
registering otherwise), negotiates the AES session key, and streams the
file named in transfer.info to completion.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := loadRuntime(&flags)
			if err != nil {
				return err
			}

			logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)

			opts := []session.Option{session.WithDialOptions(nettransport.DefaultDialOptions())}

			limit := cfg.MaxBytesPerSec
			if rateLimit > 0 {
				limit = rateLimit
			}
			if limit > 0 {
				opts = append(opts, session.WithRateLimit(int(limit)))
			}

			var metricsServer *metrics.Server
			if cfg.Metrics.Enabled {
				reg := prometheus.NewRegistry()
				m := metrics.NewWithRegistry(reg)
				opts = append(opts, session.WithMetrics(m))
				metricsServer = metrics.NewServer(cfg.Metrics.Address, reg)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if metricsServer != nil {
				go func() {
					if err := metricsServer.ListenAndServe(ctx); err != nil {
						logger.Error("metrics server stopped", logging.KeyError, err)
					}
				}()
			}

			engine := session.New(store, logger, opts...)
			if err := engine.Run(ctx); err != nil && !errors.Is(err, session.ErrAborted) {
				return err
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().Int64Var(&rateLimit, "max-bytes-per-sec", 0, "override fileup.yaml's chunk emission rate limit (0 = unlimited)")
	return cmd
}

func registerCmd() *cobra.Command {
	var flags commonFlags
	var force bool

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Force a fresh registration, discarding any existing identity",
		Long: `register removes an existing me.info (after interactive confirmation,
mirroring the password double-entry the server-side auth flow uses) and
then runs the normal register-or-reconnect-then-send flow, which will
register fresh since no identity remains.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := loadRuntime(&flags)
			if err != nil {
				return err
			}

			dir := flags.dataDir
			if dir == "" || dir == "." {
				dir = cfg.DataDir
			}
			meInfo := filepath.Join(dir, "me.info")

			if _, statErr := os.Stat(meInfo); statErr == nil {
				if !force {
					if err := confirmOverwrite(); err != nil {
						return err
					}
				}
				if err := os.Remove(meInfo); err != nil {
					return fmt.Errorf("register: remove existing me.info: %w", err)
				}
			}

			logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
			engine := session.New(store, logger)
			if err := engine.Run(cmd.Context()); err != nil && !errors.Is(err, session.ErrAborted) {
				return err
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&force, "force", false, "skip the interactive confirmation prompt")
	return cmd
}

// confirmOverwrite prompts twice for a confirmation phrase and uses
// bcrypt to compare them, guarding against an accidental re-registration
// over an existing identity file.
func confirmOverwrite() error {
	fmt.Print("An identity already exists. Type a confirmation phrase: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("register: read confirmation: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword(first, bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("register: hash confirmation: %w", err)
	}

	fmt.Print("Type it again to confirm: ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("register: read confirmation: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword(hash, second); err != nil {
		return fmt.Errorf("register: confirmation phrases did not match, aborting")
	}
	if len(first) == 0 {
		return fmt.Errorf("register: confirmation phrase must not be empty")
	}
	return nil
}

func wizardCmd() *cobra.Command {
	var flags commonFlags

	cmd := &cobra.Command{
		Use:   "wizard",
		Short: "Interactively create transfer.info",
		RunE: func(cmd *cobra.Command, args []string) error {
			answers, err := wizard.Run()
			if err != nil {
				return err
			}
			dir := flags.dataDir
			if dir == "" {
				dir = "."
			}
			return wizard.Write(dir, answers)
		},
	}
	flags.register(cmd)
	return cmd
}

func versionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "version",
		Short:   "Print the fileup version",
		GroupID: "admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(Version)
			return nil
		},
	}
	return cmd
}
