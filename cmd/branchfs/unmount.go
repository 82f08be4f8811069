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

	"github.com/moby/sys/mountinfo"
	"github.com/spf13/cobra"

	"github.com/multikernel/branchfs/internal/daemon"
)

var unmountCmd = &cobra.Command{
	Use:   "unmount <mountpoint>",
	Short: "Tear down a mount",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnmount,
}

func runUnmount(cmd *cobra.Command, args []string) error {
	mountpoint := args[0]

	mounts, err := mountinfo.GetMounts(mountinfo.SingleEntryFilter(mountpoint))
	if err != nil {
		return fmt.Errorf("branchfs: inspect mount table: %w", err)
	}
	if len(mounts) == 0 {
		fmt.Printf("%s is not mounted, telling the daemon to forget it anyway\n", mountpoint)
	}

	resp, err := daemon.SendRequest(socketPath(), daemon.Request{
		Cmd:        daemon.CmdUnmount,
		Mountpoint: mountpoint,
	})
	if err != nil {
		return err
	}
	if !resp.Ok {
		return fmt.Errorf("branchfs: unmount failed: %s", resp.Error)
	}

	fmt.Printf("unmounted %s\n", mountpoint)
	return nil
}
