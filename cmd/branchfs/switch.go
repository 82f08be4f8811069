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

var switchCmd = &cobra.Command{
	Use:   "switch <branch> <mountpoint>",
	Short: "Move the mount's view onto an existing branch",
	Args:  cobra.ExactArgs(2),
	RunE:  runSwitch,
}

func runSwitch(cmd *cobra.Command, args []string) error {
	branch, mountpoint := args[0], args[1]

	if err := writeCtl(mountpoint, "switch:"+branch); err != nil {
		return err
	}
	if err := notifySwitch(mountpoint, branch); err != nil {
		return err
	}

	fmt.Printf("switched %s to %s\n", mountpoint, branch)
	return nil
}
