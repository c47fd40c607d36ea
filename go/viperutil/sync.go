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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// syncViper is a threadsafe wrapper around a pair of vipers backing the
// dynamic registry. The disk viper watches the loaded config file; the live
// viper serves values to Dynamic handles. When the file changes, disk
// settings are merged into live under the lock, so concurrent Gets never
// observe a half-reloaded config.
type syncViper struct {
	mu   sync.Mutex
	disk *viper.Viper
	live *viper.Viper

	subscribers    []chan<- struct{}
	watchingConfig bool

	// setCh has capacity 1; a pending signal means at least one in-memory
	// Set has not been persisted yet.
	setCh chan struct{}
}

func newSyncViper() *syncViper {
	return &syncViper{
		disk:  viper.New(),
		live:  viper.New(),
		setCh: make(chan struct{}, 1),
	}
}

// SetDefault forwards to the live viper.
func (sv *syncViper) SetDefault(key string, value any) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.live.SetDefault(key, value)
}

// BindEnv forwards to the live viper.
func (sv *syncViper) BindEnv(input ...string) error {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.live.BindEnv(input...)
}

// BindPFlag forwards to the live viper.
func (sv *syncViper) BindPFlag(key string, flag *pflag.Flag) error {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.live.BindPFlag(key, flag)
}

// Set updates key on the live config and schedules a persistence pass if a
// config file is being watched.
func (sv *syncViper) Set(key string, value any) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	sv.live.Set(key, value)
	select {
	case sv.setCh <- struct{}{}:
	default:
	}
}

// AllSettings returns the settings of the live config.
func (sv *syncViper) AllSettings() map[string]any {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.live.AllSettings()
}

// Notify registers ch to receive a signal each time the watched config is
// reloaded from disk. Signals are sent non-blocking, like signal.Notify.
//
// It panics if called after Watch, since subscribers registered mid-watch
// could miss reloads.
func (sv *syncViper) Notify(ch chan<- struct{}) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	if sv.watchingConfig {
		panic("cannot Notify after the config watch has started")
	}
	sv.subscribers = append(sv.subscribers, ch)
}

// Watch begins watching the config file the static viper loaded, if any,
// merging file changes into the live config as they happen. In-memory Sets
// are persisted back to the file no more often than minWaitInterval.
//
// The returned cancel func stops the persistence loop. It never returns a
// nil cancel on success.
func (sv *syncViper) Watch(ctx context.Context, static *viper.Viper, minWaitInterval time.Duration) (context.CancelFunc, error) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	if sv.watchingConfig {
		return nil, fmt.Errorf("config watch already started on %s", sv.disk.ConfigFileUsed())
	}

	cfgFile := static.ConfigFileUsed()
	if cfgFile == "" {
		// Nothing to watch; values are served from defaults, flags and env.
		return func() {}, nil
	}

	sv.disk.SetConfigFile(cfgFile)
	if err := sv.disk.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s into the dynamic registry: %w", cfgFile, err)
	}
	if err := sv.live.MergeConfigMap(sv.disk.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to merge config file %s into the live config: %w", cfgFile, err)
	}

	sv.watchingConfig = true
	sv.disk.OnConfigChange(func(in fsnotify.Event) {
		sv.mu.Lock()
		defer sv.mu.Unlock()

		if err := sv.live.MergeConfigMap(sv.disk.AllSettings()); err != nil {
			slog.Warn("failed to merge reloaded config", "file", in.Name, "err", err)
			return
		}
		for _, ch := range sv.subscribers {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	})
	sv.disk.WatchConfig()

	ctx, cancel := context.WithCancel(ctx)
	go sv.persistChanges(ctx, minWaitInterval)
	return cancel, nil
}

// persistChanges writes in-memory config changes back to the watched file,
// at most once per minWaitInterval.
func (sv *syncViper) persistChanges(ctx context.Context, minWaitInterval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sv.setCh:
		}

		if err := sv.persist(); err != nil {
			slog.Warn("failed to persist config changes to disk", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(minWaitInterval):
		}
	}
}

func (sv *syncViper) persist() error {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.live.WriteConfigAs(sv.disk.ConfigFileUsed())
}

// readLive reads key from the live config under the registry lock. It is a
// free function because methods cannot introduce type parameters.
func readLive[T any](sv *syncViper, getfunc func(v *viper.Viper) func(key string) T, key string) T {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return getfunc(sv.live)(key)
}
