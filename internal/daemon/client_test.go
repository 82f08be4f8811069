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

package daemon

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRunningFalseWhenNoSocketExists(t *testing.T) {
	assert.False(t, IsRunning(filepath.Join(t.TempDir(), "daemon.sock")))
}

func TestIsRunningFalseForStaleSocketFile(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "daemon.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)
	l.(*net.UnixListener).SetUnlinkOnClose(false)
	l.Close() // leaves the socket file behind with nothing listening

	assert.False(t, IsRunning(sock))
}

func TestSendRequestRoundTrip(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "daemon.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)
	defer l.Close()

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				scanner := bufio.NewScanner(conn)
				if !scanner.Scan() {
					return
				}
				var req Request
				_ = json.Unmarshal(scanner.Bytes(), &req)

				resp := Success()
				raw, _ := json.Marshal(resp)
				raw = append(raw, '\n')
				conn.Write(raw)
			}()
		}
	}()

	assert.True(t, IsRunning(sock))

	resp, err := SendRequest(sock, Request{Cmd: CmdList})
	require.NoError(t, err)
	assert.True(t, resp.Ok)
}
