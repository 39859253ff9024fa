// Copyright (c) 2024 santosr2
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package cmd wires the cargo-cooldown command line.
//
// The binary runs as a cargo subcommand (`cargo cooldown build --release`),
// so flag parsing is disabled and the trailing argv is forwarded to cargo
// verbatim once cooldown enforcement completes.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/santosr2/cargo-cooldown/internal/allowlist"
	"github.com/santosr2/cargo-cooldown/internal/cache"
	"github.com/santosr2/cargo-cooldown/internal/cargo"
	"github.com/santosr2/cargo-cooldown/internal/config"
	"github.com/santosr2/cargo-cooldown/internal/executor"
	"github.com/santosr2/cargo-cooldown/internal/registry"
	"github.com/santosr2/cargo-cooldown/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "cargo-cooldown <cargo-command> [args...]",
	Short: "Cargo wrapper that enforces a release cooldown window",
	Long: `cargo-cooldown wraps a Cargo invocation and enforces a cooldown window:
newly published crates must age for a configured minimum duration before a
build may consume them. Lockfile entries that are too fresh are downgraded
to the newest acceptable older release that still satisfies every semver
requirement, then the wrapped command runs against the cooled lockfile.`,
	Args:               cobra.ArbitraryArgs,
	DisableFlagParsing: true,
	SilenceUsage:       true,
	SilenceErrors:      true,
	RunE:               run,
}

// ExitError carries a process exit code through cobra's error channel.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Execute runs the root command and exits the process.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, "cargo-cooldown:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	args = sanitizeArgs(args)

	if len(args) == 1 && (args[0] == "--version" || args[0] == "-V") {
		fmt.Fprintln(cmd.OutOrStdout(), "cargo-cooldown", version.Get())
		return nil
	}
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: cargo cooldown <cargo-command> [args...]")
		return &ExitError{Code: 2}
	}
	if args[0] == "update" {
		fmt.Fprintln(os.Stderr,
			"cargo-cooldown is designed for commands like build, check, test, or run.\n"+
				"Running it with `cargo update` would replace the lockfile you just cooled down.\n"+
				"Invoke `cargo update` directly instead if you truly intend to refresh dependency versions.")
		return &ExitError{Code: 2}
	}

	cfg := config.Load()
	logger := newLogger(cfg.Verbose)

	if cfg.Mode != config.ModeOff && cfg.CooldownMinutes > 0 {
		if err := runEngine(cmd.Context(), cfg, logger); err != nil {
			if cfg.Mode == config.ModeWarn {
				logger.Warn("cooldown guard failed; continuing due to warn mode", "error", err)
			} else {
				return err
			}
		}
	}

	code, err := cargo.Run(cmd.Context(), args)
	if err != nil {
		return err
	}
	if code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

// runEngine assembles the real collaborators and drives the fixed point.
func runEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := cargo.EnsureLockfile(ctx); err != nil {
		return err
	}

	allow, err := allowlist.Load(cfg.AllowlistPath)
	if err != nil {
		return err
	}
	store, err := cache.New(cfg.CacheDir, time.Duration(cfg.TTLSeconds)*time.Second, clockwork.NewRealClock(), logger)
	if err != nil {
		return err
	}
	client, err := registry.NewClient(cfg.RegistryAPI, cfg.HTTPRetries)
	if err != nil {
		return err
	}

	engine := executor.New(executor.Params{
		Config:    cfg,
		Allowlist: allow,
		Cache:     store,
		Registry:  client,
		Metadata:  cargo.CLI{},
		Pinner:    cargo.CLI{},
		Logger:    logger,
	})
	return engine.Run(ctx)
}

// sanitizeArgs strips the leading subcommand token cargo inserts when the
// binary runs as `cargo cooldown ...`.
func sanitizeArgs(args []string) []string {
	if len(args) > 0 && args[0] == "cooldown" {
		return args[1:]
	}
	return args
}
