// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"fmt"
	"sort"
	"strings"
)

// Options are named encoder options such as {"preset": "medium"}.
type Options map[string]string

// ParseOptions parses "k=v,k2=v2". Whitespace around keys and values is
// trimmed; an empty string yields no options.
func ParseOptions(s string) (Options, error) {
	opts := Options{}
	if strings.TrimSpace(s) == "" {
		return opts, nil
	}
	for _, part := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(part, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("malformed encoder option %q (want key=value)", strings.TrimSpace(part))
		}
		if strings.ContainsAny(k, " \t-") {
			return nil, fmt.Errorf("invalid encoder option name %q", k)
		}
		opts[k] = v
	}
	return opts, nil
}

// Keys returns the option names in sorted order.
func (o Options) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the options back in ParseOptions form, sorted by key.
func (o Options) String() string {
	parts := make([]string, 0, len(o))
	for _, k := range o.Keys() {
		parts = append(parts, k+"="+o[k])
	}
	return strings.Join(parts, ",")
}
