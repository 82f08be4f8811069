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

var listCmd = &cobra.Command{
	Use:   "list [mountpoint]",
	Short: "List active mounts, or one mount's branch tree",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		resp, err := daemon.SendRequest(socketPath(), daemon.Request{Cmd: daemon.CmdList})
		if err != nil {
			return err
		}
		if !resp.Ok {
			return fmt.Errorf("branchfs: list failed: %s", resp.Error)
		}
		var mounts []daemon.MountInfo
		if err := unmarshalData(resp, &mounts); err != nil {
			return err
		}
		for _, m := range mounts {
			fmt.Printf("%s\t%s\t%s\n", m.ID, m.Mountpoint, m.CurrentBranch)
		}
		return nil
	}

	mountpoint := args[0]
	resp, err := daemon.SendRequest(socketPath(), daemon.Request{Cmd: daemon.CmdList, Mountpoint: mountpoint})
	if err != nil {
		return err
	}
	if !resp.Ok {
		return fmt.Errorf("branchfs: list failed: %s", resp.Error)
	}
	var branches []daemon.BranchInfo
	if err := unmarshalData(resp, &branches); err != nil {
		return err
	}
	for _, b := range branches {
		if b.HasParent {
			fmt.Printf("%s <- %s\n", b.Name, b.Parent)
		} else {
			fmt.Printf("%s\n", b.Name)
		}
	}
	return nil
}
