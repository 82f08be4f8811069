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

// Package daemon implements the BranchFS control daemon: the long-lived
// process that owns one core.Manager and core.FileSystem per active mount
// and exposes a line-delimited JSON protocol over a Unix domain socket for
// the CLI to drive.
package daemon

import "encoding/json"

// Request is a single line-delimited JSON request read from the control
// socket. Cmd selects which of Mount/Unmount/Create/NotifySwitch/List/
// Shutdown is meant; the other fields are populated as that command needs.
type Request struct {
	Cmd        string `json:"cmd"`
	Branch     string `json:"branch,omitempty"`
	Mountpoint string `json:"mountpoint,omitempty"`
	Name       string `json:"name,omitempty"`
	Parent     string `json:"parent,omitempty"`
}

// Command name constants for the cmd field.
const (
	CmdMount        = "mount"
	CmdUnmount      = "unmount"
	CmdCreate       = "create"
	CmdNotifySwitch = "notify_switch"
	CmdList         = "list"
	CmdShutdown     = "shutdown"
)

// Response is the line-delimited JSON reply to a Request.
type Response struct {
	Ok    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Success builds a bare ok response.
func Success() Response {
	return Response{Ok: true}
}

// SuccessWithData marshals data and attaches it to an ok response.
func SuccessWithData(data any) (Response, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Response{}, err
	}
	return Response{Ok: true, Data: raw}, nil
}

// Failure builds a non-ok response carrying msg.
func Failure(msg string) Response {
	return Response{Ok: false, Error: msg}
}

// MountInfo is the data returned by the List command for a single active
// mount.
type MountInfo struct {
	ID            string `json:"id"`
	Mountpoint    string `json:"mountpoint"`
	CurrentBranch string `json:"current_branch"`
}

// BranchInfo is one entry of a branch-tree listing.
type BranchInfo struct {
	Name      string `json:"name"`
	Parent    string `json:"parent,omitempty"`
	HasParent bool   `json:"has_parent"`
}
