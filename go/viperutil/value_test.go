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
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureStatic(t *testing.T) {
	reg := NewRegistry()

	val := Configure(reg, "fetch.array.size", Options[int]{
		Default: 100,
	})

	assert.Equal(t, "fetch.array.size", val.Key())
	assert.Equal(t, 100, val.Default())
	assert.Equal(t, 100, val.Get(), "default should be served before any override")

	val.Set(250)
	assert.Equal(t, 250, val.Get())
}

func TestConfigureEnvBinding(t *testing.T) {
	reg := NewRegistry()

	val := Configure(reg, "session.tag", Options[string]{
		Default: "",
		EnvVars: []string{"ROWCALL_TEST_SESSION_TAG"},
	})

	t.Setenv("ROWCALL_TEST_SESSION_TAG", "scroll")
	assert.Equal(t, "scroll", val.Get())
}

func TestConfigureDynamic(t *testing.T) {
	reg := NewRegistry()

	val := Configure(reg, "log.level", Options[string]{
		Default: "info",
		Dynamic: true,
	})

	assert.Equal(t, "info", val.Get())

	val.Set("debug")
	assert.Equal(t, "debug", val.Get())
}

func TestConfigureDuration(t *testing.T) {
	reg := NewRegistry()

	val := Configure(reg, "retry.interval", Options[time.Duration]{
		Default: time.Second,
	})

	assert.Equal(t, time.Second, val.Get())

	// Duration strings from a config source decode through the getter.
	reg.static.Set("retry.interval", "5s")
	assert.Equal(t, 5*time.Second, val.Get())
}

func TestBindFlags(t *testing.T) {
	reg := NewRegistry()

	port := Configure(reg, "http.port", Options[int]{
		Default:  0,
		FlagName: "http-port",
	})
	noFlag := Configure(reg, "internal.only", Options[string]{
		Default: "unset",
	})

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("http-port", port.Default(), "HTTP port for the server")

	BindFlags(fs, port, noFlag)

	require.NoError(t, fs.Parse([]string{"--http-port=15306"}))
	assert.Equal(t, 15306, port.Get(), "parsed flag should take precedence over the default")
	assert.Equal(t, "unset", noFlag.Get(), "values without a flag name are skipped")
}

func TestBindFlagsMissingFlag(t *testing.T) {
	reg := NewRegistry()

	val := Configure(reg, "bind.address", Options[string]{
		FlagName: "bind-address",
	})

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.Panics(t, func() {
		BindFlags(fs, val)
	}, "binding a value whose flag was never defined is a programming error")
}

func TestGetPath(t *testing.T) {
	reg := NewRegistry()

	val := Configure(reg, "config.paths", Options[[]string]{
		GetFunc: GetPath,
	})

	sep := string(os.PathListSeparator)
	reg.static.Set("config.paths", []string{"a" + sep + "b", "", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, val.Get())
}

func TestWatchServesConfigFileValues(t *testing.T) {
	reg := NewRegistry()

	speed := Configure(reg, "speed", Options[int]{
		Default: 1,
		Dynamic: true,
	})

	cfgFile := filepath.Join(t.TempDir(), "rcconfig.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("speed: 42\n"), 0o644))

	reg.static.SetConfigFile(cfgFile)
	require.NoError(t, reg.static.ReadInConfig())

	cancel, err := reg.dynamic.Watch(context.Background(), reg.static, time.Second)
	require.NoError(t, err)
	defer cancel()

	assert.Equal(t, 42, speed.Get(), "watch should merge the loaded file into the live config")

	t.Run("notify after watch panics", func(t *testing.T) {
		require.Panics(t, func() {
			NotifyConfigReload(reg, make(chan struct{}, 1))
		})
	})

	t.Run("double watch fails", func(t *testing.T) {
		_, err := reg.dynamic.Watch(context.Background(), reg.static, time.Second)
		require.Error(t, err)
		require.Contains(t, err.Error(), "already started")
	})
}

func TestCombined(t *testing.T) {
	reg := NewRegistry()

	Configure(reg, "static.key", Options[string]{Default: "s"})
	Configure(reg, "dynamic.key", Options[string]{Default: "d", Dynamic: true})

	v := reg.Combined()
	assert.Equal(t, "s", v.GetString("static.key"))
	assert.Equal(t, "d", v.GetString("dynamic.key"))

	var found int
	for _, k := range v.AllKeys() {
		if strings.HasPrefix(k, "static.") || strings.HasPrefix(k, "dynamic.") {
			found++
		}
	}
	assert.Equal(t, 2, found)
}
