// Copyright 2025 Supabase, Inc.
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

package viperutil

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Bindable is the type-erased part of a Value, allowing values of different
// types to be passed to BindFlags together.
type Bindable interface {
	// Key returns the config key the value was registered under.
	Key() string
	// Flag returns the flag the value wants to bind to on fs, or nil if the
	// value was configured without a flag name.
	Flag(fs *pflag.FlagSet) (*pflag.Flag, error)
	// bindFlag binds the value's key to the given flag in its backing
	// registry, so the flag takes precedence once parsed.
	bindFlag(flag *pflag.Flag) error
}

// Value is a typed handle on a single config key backed by a Registry.
//
// Static values are fixed once config loading finishes; Dynamic values read
// through the watched config and pick up file changes for the lifetime of
// the process.
type Value[T any] interface {
	Bindable

	// Get returns the current value of the key.
	Get() T
	// Set overrides the value of the key in its backing registry.
	Set(v T)
	// Default returns the default the value was configured with.
	Default() T
}

// Options configures a value registered via Configure.
type Options[T any] struct {
	// Default is the value the key takes when no flag, environment variable,
	// or config file provides one.
	Default T
	// EnvVars is the list of environment variables to bind the key to, in
	// order of precedence.
	EnvVars []string
	// FlagName, if set, names the pflag the key binds to via BindFlags.
	FlagName string
	// Dynamic registers the key against the dynamic (file-watched) registry
	// rather than the static one.
	Dynamic bool
	// GetFunc overrides how the value is read out of a viper. When nil, a
	// getter appropriate for T is derived (see GetFuncForType).
	GetFunc func(v *viper.Viper) func(key string) T
}

// Configure registers key on reg with the given options and returns a typed
// handle for reading it.
func Configure[T any](reg *Registry, key string, opts Options[T]) Value[T] {
	getfunc := opts.GetFunc
	if getfunc == nil {
		getfunc = GetFuncForType[T]()
	}

	if opts.Dynamic {
		val := &Dynamic[T]{
			KeyName:    key,
			DefaultVal: opts.Default,
			EnvVars:    opts.EnvVars,
			FlagName:   opts.FlagName,
			sv:         reg.dynamic,
			get:        getfunc,
		}
		registerKey(reg.dynamic, key, opts.Default, opts.EnvVars)
		return val
	}

	val := &Static[T]{
		KeyName:    key,
		DefaultVal: opts.Default,
		EnvVars:    opts.EnvVars,
		FlagName:   opts.FlagName,
		v:          reg.static,
		get:        getfunc(reg.static),
	}
	registerKey(reg.static, key, opts.Default, opts.EnvVars)
	return val
}

// keyRegistry is the subset of viper a value needs to register itself with
// its backing store. Implemented by *viper.Viper and *syncViper.
type keyRegistry interface {
	SetDefault(key string, value any)
	BindEnv(input ...string) error
	BindPFlag(key string, flag *pflag.Flag) error
}

// registerKey installs the default and environment bindings for key.
func registerKey(store keyRegistry, key string, defaultVal any, envVars []string) {
	store.SetDefault(key, defaultVal)
	if len(envVars) > 0 {
		vars := append([]string{key}, envVars...)
		if err := store.BindEnv(vars...); err != nil {
			panic(fmt.Errorf("failed to bind environment variables for config key %s: %w", key, err))
		}
	}
}

// BindFlags binds each value to its configured flag on fs, giving parsed
// flag values precedence over environment variables and config files.
// Values registered without a flag name are skipped. It panics on a missing
// flag, since that is always a programming error in flag registration.
func BindFlags(fs *pflag.FlagSet, values ...Bindable) {
	for _, val := range values {
		flag, err := val.Flag(fs)
		switch {
		case err != nil:
			panic(fmt.Errorf("failed to look up flag for config key %s: %w", val.Key(), err))
		case flag == nil:
			continue
		}

		if err := val.bindFlag(flag); err != nil {
			panic(fmt.Errorf("failed to bind flag %s to config key %s: %w", flag.Name, val.Key(), err))
		}
	}
}

// Static is a Value registered against the static registry. Its result is
// fixed once LoadConfig has run.
type Static[T any] struct {
	KeyName    string
	DefaultVal T
	EnvVars    []string
	FlagName   string

	v   *viper.Viper
	get func(key string) T
}

func (val *Static[T]) Key() string { return val.KeyName }
func (val *Static[T]) Get() T      { return val.get(val.KeyName) }
func (val *Static[T]) Set(v T)     { val.v.Set(val.KeyName, v) }
func (val *Static[T]) Default() T  { return val.DefaultVal }

func (val *Static[T]) Flag(fs *pflag.FlagSet) (*pflag.Flag, error) {
	return lookupFlag(fs, val.FlagName)
}

func (val *Static[T]) bindFlag(flag *pflag.Flag) error {
	return val.v.BindPFlag(val.KeyName, flag)
}

// Dynamic is a Value registered against the dynamic registry. Every Get
// reads through the live config, so changes to a watched config file are
// visible without restarting.
type Dynamic[T any] struct {
	KeyName    string
	DefaultVal T
	EnvVars    []string
	FlagName   string

	sv  *syncViper
	get func(v *viper.Viper) func(key string) T
}

func (val *Dynamic[T]) Key() string { return val.KeyName }
func (val *Dynamic[T]) Get() T      { return readLive(val.sv, val.get, val.KeyName) }
func (val *Dynamic[T]) Set(v T)     { val.sv.Set(val.KeyName, v) }
func (val *Dynamic[T]) Default() T  { return val.DefaultVal }

func (val *Dynamic[T]) Flag(fs *pflag.FlagSet) (*pflag.Flag, error) {
	return lookupFlag(fs, val.FlagName)
}

func (val *Dynamic[T]) bindFlag(flag *pflag.Flag) error {
	return val.sv.BindPFlag(val.KeyName, flag)
}

func lookupFlag(fs *pflag.FlagSet, name string) (*pflag.Flag, error) {
	if name == "" {
		return nil, nil
	}
	flag := fs.Lookup(name)
	if flag == nil {
		return nil, fmt.Errorf("flag %s is not defined on the flag set", name)
	}
	return flag, nil
}

// GetFuncForType returns a get func appropriate for T, used when Options
// does not provide one. Durations and string slices decode through
// mapstructure hooks so forms like "5s" and "a,b,c" work from config files
// and environment variables alike.
func GetFuncForType[T any]() func(v *viper.Viper) func(key string) T {
	var t T
	switch any(t).(type) {
	case bool:
		return func(v *viper.Viper) func(key string) T {
			return func(key string) T { return any(v.GetBool(key)).(T) }
		}
	case int:
		return func(v *viper.Viper) func(key string) T {
			return func(key string) T { return any(v.GetInt(key)).(T) }
		}
	case int64:
		return func(v *viper.Viper) func(key string) T {
			return func(key string) T { return any(v.GetInt64(key)).(T) }
		}
	case float64:
		return func(v *viper.Viper) func(key string) T {
			return func(key string) T { return any(v.GetFloat64(key)).(T) }
		}
	case string:
		return func(v *viper.Viper) func(key string) T {
			return func(key string) T { return any(v.GetString(key)).(T) }
		}
	case []string:
		return func(v *viper.Viper) func(key string) T {
			return func(key string) T { return any(v.GetStringSlice(key)).(T) }
		}
	case time.Duration:
		return func(v *viper.Viper) func(key string) T {
			return func(key string) T { return any(v.GetDuration(key)).(T) }
		}
	case map[string]string:
		return func(v *viper.Viper) func(key string) T {
			return func(key string) T { return any(v.GetStringMapString(key)).(T) }
		}
	default:
		return func(v *viper.Viper) func(key string) T {
			return func(key string) (t T) {
				if err := v.UnmarshalKey(key, &t, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					mapstructure.StringToSliceHookFunc(","),
				))); err != nil {
					slog.Warn("failed to unmarshal config key", "key", key, "err", err)
				}
				return t
			}
		}
	}
}

// GetPath returns a get func that expands a string-slice value the way a
// PATH-style environment variable works: each element may itself contain the
// OS list separator, and empty elements are dropped.
func GetPath(v *viper.Viper) func(key string) []string {
	return func(key string) (paths []string) {
		for _, val := range v.GetStringSlice(key) {
			if val != "" {
				paths = append(paths, strings.Split(val, string(os.PathListSeparator))...)
			}
		}
		return paths
	}
}
