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
	"github.com/spf13/viper"
)

// Registry holds the static and dynamic viper instances for configuration.
// Each command or service owns its own registry, rather than sharing a
// global one, so tests and embedded uses stay isolated.
//
// Static registry values never change after LoadConfig is called.
// Dynamic registry values can be updated by watching a config file for changes.
type Registry struct {
	// static is the registry for static config variables. These variables
	// will never be affected by a Watch-ed config, and maintain their
	// original values for the lifetime of the process.
	static *viper.Viper

	// dynamic is the registry for dynamic config variables. If a config file
	// is found by viper, it will be watched by a threadsafe wrapper around a
	// second viper, and variables registered to it will pick up changes to
	// that config file throughout the lifetime of the process.
	dynamic *syncViper
}

// NewRegistry creates a new isolated configuration registry.
//
// Example usage:
//
//	reg := viperutil.NewRegistry()
//	fetchSize := viperutil.Configure(reg, "fetch-array-size", viperutil.Options[int]{
//	    Default:  100,
//	    FlagName: "fetch-array-size",
//	})
func NewRegistry() *Registry {
	return &Registry{
		static:  viper.New(),
		dynamic: newSyncViper(),
	}
}

// Combined returns a viper instance combining the static and dynamic
// registries. This is useful for debug handlers and other utilities that
// need to access all configuration values.
func (reg *Registry) Combined() *viper.Viper {
	v := viper.New()
	_ = v.MergeConfigMap(reg.static.AllSettings())
	_ = v.MergeConfigMap(reg.dynamic.AllSettings())

	v.SetConfigFile(reg.static.ConfigFileUsed())
	return v
}
