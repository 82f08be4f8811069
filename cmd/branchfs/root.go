// Copyright 2024 The BranchFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	branchfsconfig "github.com/multikernel/branchfs/internal/config"
	"github.com/multikernel/branchfs/internal/daemon"
	"github.com/multikernel/branchfs/internal/logger"
)

var (
	cfgFile       string
	storageFlag   string
	baseFlag      string
	bindErr       error
	configFileErr error

	rootCmd = &cobra.Command{
		Use:   "branchfs",
		Short: "Mount and manage a branchable, copy-on-write overlay filesystem",
		Long: `BranchFS overlays a writable, branchable view on top of an immutable
base directory tree. Create named branches, write to them through a FUSE
mount, then commit the result back into the base or abort it, speculative-
execution style.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if bindErr != nil {
				return bindErr
			}
			return configFileErr
		},
	}
)

// Execute runs the root command, printing any error to stderr and exiting
// non-zero.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file.")
	rootCmd.PersistentFlags().StringVar(&storageFlag, "storage", defaultStoragePath(), "Directory holding branch/tombstone state and the control socket.")
	rootCmd.PersistentFlags().StringVar(&baseFlag, "base", "", "The immutable base directory (required on the first mount against a storage dir).")

	bindErr = branchfsconfig.BindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(mountCmd, unmountCmd, branchCmd, commitCmd, abortCmd, switchCmd, listCmd, daemonCmd)
}

func initConfig() {
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("reading config file: %w", err)
	}
}

// defaultStoragePath is $XDG_STATE_HOME/branchfs, falling back to
// ~/.branchfs, used when --storage is not given.
func defaultStoragePath() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "branchfs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".branchfs"
	}
	return filepath.Join(home, ".branchfs")
}

func socketPath() string {
	return filepath.Join(storageFlag, "daemon.sock")
}

// loadConfig decodes the bound flags/config-file into a branchfsconfig.Config.
func loadConfig() (*branchfsconfig.Config, error) {
	return branchfsconfig.Unmarshal()
}

// newLogger builds the CLI's own logger from the decoded config (used for
// CLI-side diagnostics; the daemon builds its own, separately, since it
// outlives any single CLI invocation).
func newLogger(cfg *branchfsconfig.Config) *logger.Logger {
	return logger.New(logger.Config{Level: severityLevel(cfg.Logging.Severity), Format: cfg.Logging.Format})
}

// severityLevel maps a configured severity name to its slog.Level, defaulting
// to INFO for an empty or unrecognized value.
func severityLevel(severity string) slog.Level {
	switch severity {
	case "TRACE":
		return logger.LevelTrace
	case "DEBUG":
		return logger.LevelDebug
	case "WARNING":
		return logger.LevelWarning
	case "ERROR":
		return logger.LevelError
	default:
		return logger.LevelInfo
	}
}

// ensureDaemon starts the daemon in the background if one isn't already
// listening on this storage directory's socket.
func ensureDaemon(base string) error {
	sock := socketPath()
	if daemon.IsRunning(sock) {
		return nil
	}
	if base == "" {
		return fmt.Errorf("no daemon running on %s and --base not specified", storageFlag)
	}
	return startDaemonBackground(base)
}
