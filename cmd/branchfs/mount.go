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

	"github.com/spf13/cobra"

	"github.com/multikernel/branchfs/internal/daemon"
)

var mountCmd = &cobra.Command{
	Use:   "mount <branch> <mountpoint>",
	Short: "Mount a branch's view at mountpoint, starting the daemon if needed",
	Args:  cobra.ExactArgs(2),
	RunE:  runMount,
}

func runMount(cmd *cobra.Command, args []string) error {
	branch, mountpoint := args[0], args[1]

	if err := ensureDaemon(baseFlag); err != nil {
		return err
	}

	resp, err := daemon.SendRequest(socketPath(), daemon.Request{
		Cmd:        daemon.CmdMount,
		Branch:     branch,
		Mountpoint: mountpoint,
	})
	if err != nil {
		return err
	}
	if !resp.Ok {
		return fmt.Errorf("branchfs: mount failed: %s", resp.Error)
	}

	fmt.Printf("mounted %s at %s\n", branch, mountpoint)
	return nil
}
