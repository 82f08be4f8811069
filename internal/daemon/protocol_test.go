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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTripsThroughJSON(t *testing.T) {
	req := Request{Cmd: CmdCreate, Name: "feature", Parent: "main", Mountpoint: "/mnt"}

	raw, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded Request
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, req, decoded)
}

func TestSuccessWithDataRoundTrips(t *testing.T) {
	branches := []BranchInfo{{Name: "main"}, {Name: "feature", Parent: "main", HasParent: true}}

	resp, err := SuccessWithData(branches)
	require.NoError(t, err)
	assert.True(t, resp.Ok)

	var decoded []BranchInfo
	require.NoError(t, json.Unmarshal(resp.Data, &decoded))
	assert.Equal(t, branches, decoded)
}

func TestFailureCarriesMessage(t *testing.T) {
	resp := Failure("branch not found")
	assert.False(t, resp.Ok)
	assert.Equal(t, "branch not found", resp.Error)
	assert.Nil(t, resp.Data)
}
