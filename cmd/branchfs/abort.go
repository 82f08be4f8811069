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
)

var abortCmd = &cobra.Command{
	Use:   "abort <mountpoint>",
	Short: "Discard the mount's current branch chain and switch to its parent",
	Args:  cobra.ExactArgs(1),
	RunE:  runAbort,
}

func runAbort(cmd *cobra.Command, args []string) error {
	mountpoint := args[0]

	branch, err := currentBranchOf(mountpoint)
	if err != nil {
		return err
	}
	parent, err := parentOf(mountpoint, branch)
	if err != nil {
		return err
	}
	if err := writeCtl(mountpoint, "abort"); err != nil {
		return err
	}
	if err := notifySwitch(mountpoint, parent); err != nil {
		return err
	}

	fmt.Printf("aborted %s, now on %s\n", branch, parent)
	return nil
}
