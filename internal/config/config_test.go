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

package config

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindFlagsAndUnmarshalDefaults(t *testing.T) {
	viper.Reset()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, BindFlags(fs))
	require.NoError(t, fs.Parse(nil))

	cfg, err := Unmarshal()
	require.NoError(t, err)

	assert.Equal(t, Octal(0o644), cfg.FileSystem.FileMode)
	assert.Equal(t, Octal(0o755), cfg.FileSystem.DirMode)
	assert.Equal(t, -1, cfg.FileSystem.Uid)
	assert.Equal(t, -1, cfg.FileSystem.Gid)
	assert.Equal(t, "INFO", cfg.Logging.Severity)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.False(t, cfg.Foreground)
}

func TestBindFlagsAndUnmarshalOverrides(t *testing.T) {
	viper.Reset()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, BindFlags(fs))
	require.NoError(t, fs.Parse([]string{
		"--file-mode", "0600",
		"--dir-mode", "0750",
		"--uid", "1000",
		"--gid", "1000",
		"--log-severity", "DEBUG",
		"--log-format", "json",
		"--foreground",
	}))

	cfg, err := Unmarshal()
	require.NoError(t, err)

	assert.Equal(t, Octal(0o600), cfg.FileSystem.FileMode)
	assert.Equal(t, Octal(0o750), cfg.FileSystem.DirMode)
	assert.Equal(t, 1000, cfg.FileSystem.Uid)
	assert.Equal(t, 1000, cfg.FileSystem.Gid)
	assert.Equal(t, "DEBUG", cfg.Logging.Severity)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Foreground)
}
