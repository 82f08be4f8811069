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

// Package config decodes BranchFS's flags/env/config-file surface into a
// Config struct through viper.
package config

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully decoded configuration for a BranchFS mount or daemon
// invocation.
type Config struct {
	FileSystem FileSystemConfig `yaml:"file-system" mapstructure:"file-system"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
	Foreground bool             `yaml:"foreground" mapstructure:"foreground"`
}

// FileSystemConfig holds the permission/ownership overrides applied to
// synthetic and resolved inode attributes.
type FileSystemConfig struct {
	FileMode Octal `yaml:"file-mode" mapstructure:"file-mode"`
	DirMode  Octal `yaml:"dir-mode" mapstructure:"dir-mode"`
	Uid      int   `yaml:"uid" mapstructure:"uid"`
	Gid      int   `yaml:"gid" mapstructure:"gid"`
}

// LoggingConfig controls where and how verbosely BranchFS logs.
type LoggingConfig struct {
	Severity string `yaml:"severity" mapstructure:"severity"`
	Format   string `yaml:"format" mapstructure:"format"`
	FilePath string `yaml:"file-path" mapstructure:"file-path"`
}

// BindFlags registers BranchFS's persistent flags on flagSet and binds each
// to its viper key, mirroring cfg.BindFlags's one-flag-per-field shape.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("file-mode", "", "0644", "Permission bits for new regular files, in octal.")
	if err = viper.BindPFlag("file-system.file-mode", flagSet.Lookup("file-mode")); err != nil {
		return err
	}

	flagSet.StringP("dir-mode", "", "0755", "Permission bits for new directories, in octal.")
	if err = viper.BindPFlag("file-system.dir-mode", flagSet.Lookup("dir-mode")); err != nil {
		return err
	}

	flagSet.IntP("uid", "", -1, "UID that owns every inode; -1 uses the mounting process's UID.")
	if err = viper.BindPFlag("file-system.uid", flagSet.Lookup("uid")); err != nil {
		return err
	}

	flagSet.IntP("gid", "", -1, "GID that owns every inode; -1 uses the mounting process's GID.")
	if err = viper.BindPFlag("file-system.gid", flagSet.Lookup("gid")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", "INFO", "Minimum log severity: TRACE, DEBUG, INFO, WARNING, or ERROR.")
	if err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "Log output format: text or json.")
	if err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Path to a log file; defaults to stderr if empty.")
	if err = viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	flagSet.BoolP("foreground", "", false, "Run the daemon in the foreground instead of detaching.")
	if err = viper.BindPFlag("foreground", flagSet.Lookup("foreground")); err != nil {
		return err
	}

	return nil
}

// decodeHook composes the text-unmarshaller hook (for Octal) with viper's
// own default hooks, the same composition cfg.DecodeHook uses.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		func(f, t reflect.Type, data interface{}) (interface{}, error) {
			if f.Kind() != reflect.String || t != reflect.TypeOf(Octal(0)) {
				return data, nil
			}
			v, err := strconv.ParseInt(data.(string), 8, 32)
			if err != nil {
				return nil, fmt.Errorf("config: invalid octal value %q: %w", data, err)
			}
			return v, nil
		},
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

// Unmarshal decodes viper's current state into a Config.
func Unmarshal() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
