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
	"os"

	"github.com/jacobsa/daemonize"
	"github.com/kardianos/osext"
)

// startDaemonBackground re-execs the current binary as `branchfs daemon run
// --foreground`: osext.Executable locates the binary to re-exec, and
// daemonize.Run detaches it, blocking until the child signals readiness via
// daemonize.SignalOutcome (called from runDaemon once the control socket
// is bound).
func startDaemonBackground(base string) error {
	path, err := osext.Executable()
	if err != nil {
		return fmt.Errorf("branchfs: osext.Executable: %w", err)
	}

	args := []string{
		"daemon", "run",
		"--storage", storageFlag,
		"--base", base,
		"--foreground",
	}

	env := []string{
		fmt.Sprintf("PATH=%s", os.Getenv("PATH")),
	}
	if home, ok := os.LookupEnv("HOME"); ok {
		env = append(env, fmt.Sprintf("HOME=%s", home))
	}

	if err := daemonize.Run(path, args, env, os.Stdout); err != nil {
		return fmt.Errorf("branchfs: daemonize.Run: %w", err)
	}
	return nil
}
