// Copyright 2023 The Vitess Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Modifications Copyright 2025 Supabase, Inc.

package debug

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/rowcall/rowcall/go/viperutil"

	"github.com/spf13/pflag"
)

// AllSettings returns the combined settings of the static and dynamic
// registries, for logging on config reloads.
func AllSettings(reg *viperutil.Registry) map[string]any {
	return reg.Combined().AllSettings()
}

// HandlerFunc returns an http.HandlerFunc that renders the combined config
// registry (both static and dynamic) for debugging purposes.
//
// Example requests:
//   - GET /debug/config
//   - GET /debug/config?format=json
func HandlerFunc(reg *viperutil.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := reg.Combined()
		format := strings.ToLower(r.URL.Query().Get("format"))

		// Collect command-line flags that were explicitly set.
		options := make(map[string]string)
		pflag.CommandLine.VisitAll(func(flag *pflag.Flag) {
			if flag.Changed {
				options[flag.Name] = flag.Value.String()
			}
		})

		// Handle JSON format specially to include both cmdline flags and viper config
		if format == "json" {
			w.Header().Set("Content-Type", "application/json")

			response := map[string]any{
				"command_line_flags": options,
				"viper_config":       v.AllSettings(),
			}

			encoder := json.NewEncoder(w)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(response); err != nil {
				http.Error(w, fmt.Sprintf("failed to encode JSON: %v", err), http.StatusInternalServerError)
			}
			return
		}

		// Default format: plain text, one key per line.
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		keys := v.AllKeys()
		sort.Strings(keys)
		for _, k := range keys {
			value := v.Get(k)
			if value == nil {
				// should not happen
				continue
			}
			fmt.Fprintf(w, "%s: %v\n", k, value)
		}
	}
}
