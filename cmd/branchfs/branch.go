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

var branchCmd = &cobra.Command{
	Use:   "branch",
	Short: "Manage branches of an active mount",
}

var branchCreateCmd = &cobra.Command{
	Use:   "create <name> <parent> <mountpoint>",
	Short: "Create a branch off an existing one",
	Args:  cobra.ExactArgs(3),
	RunE:  runBranchCreate,
}

func init() {
	branchCmd.AddCommand(branchCreateCmd)
}

func runBranchCreate(cmd *cobra.Command, args []string) error {
	name, parent, mountpoint := args[0], args[1], args[2]

	resp, err := daemon.SendRequest(socketPath(), daemon.Request{
		Cmd:        daemon.CmdCreate,
		Name:       name,
		Parent:     parent,
		Mountpoint: mountpoint,
	})
	if err != nil {
		return err
	}
	if !resp.Ok {
		return fmt.Errorf("branchfs: create branch failed: %s", resp.Error)
	}

	fmt.Printf("created branch %s off %s\n", name, parent)
	return nil
}
