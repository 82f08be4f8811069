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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacobsa/daemonize"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/multikernel/branchfs/internal/daemon"
	"github.com/multikernel/branchfs/internal/logger"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Control-socket daemon commands",
}

var daemonRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the control-socket daemon in the foreground",
	Args:  cobra.NoArgs,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.AddCommand(daemonRunCmd)
}

// runDaemon brings up a Daemon bound to storageFlag/baseFlag and serves
// requests until SIGINT/SIGTERM. It is always invoked with --foreground by
// startDaemonBackground's re-exec; daemonize.SignalOutcome tells the
// waiting parent process whether the daemon came up cleanly.
func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return callDaemonizeSignalOutcome(err)
	}

	log := newLogger(cfg)
	if cfg.Logging.FilePath != "" {
		out := &lumberjack.Logger{Filename: cfg.Logging.FilePath, MaxSize: 100, MaxBackups: 3}
		log = logger.New(logger.Config{Level: severityLevel(cfg.Logging.Severity), Format: cfg.Logging.Format, Output: out})
	}

	uid, gid := cfg.FileSystem.Uid, cfg.FileSystem.Gid
	if uid < 0 {
		uid = os.Getuid()
	}
	if gid < 0 {
		gid = os.Getgid()
	}

	d, err := daemon.New(daemon.Config{
		BasePath:    baseFlag,
		StoragePath: storageFlag,
		Logger:      log,
		FileMode:    os.FileMode(cfg.FileSystem.FileMode),
		DirMode:     os.FileMode(cfg.FileSystem.DirMode),
		Uid:         uint32(uid),
		Gid:         uint32(gid),
	})
	if err != nil {
		return callDaemonizeSignalOutcome(fmt.Errorf("create daemon: %w", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		cancel()
	}()

	if err := callDaemonizeSignalOutcome(nil); err != nil {
		log.Error("failed to signal daemon readiness to parent", "error", err)
	}

	return d.Run(ctx)
}

// callDaemonizeSignalOutcome absorbs the error daemonize.SignalOutcome
// itself can return by logging it, mirroring cmd/legacy_main.go's own
// callDaemonizeSignalOutcome helper; it returns readyErr unchanged so
// callers can still propagate the original failure.
func callDaemonizeSignalOutcome(readyErr error) error {
	if err := daemonize.SignalOutcome(readyErr); err != nil {
		fmt.Fprintf(os.Stderr, "branchfs: failed to signal outcome to parent process: %v\n", err)
	}
	return readyErr
}
