// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"testing"
	"time"
)

func TestParseString(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		envSet bool
		want   string
	}{
		{name: "environment variable set", value: "from-env", envSet: true, want: "from-env"},
		{name: "environment variable not set", want: "default"},
		{name: "environment variable empty string", value: "", envSet: true, want: "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envSet {
				t.Setenv("TEST_STRING", tt.value)
			}
			if got := ParseString("TEST_STRING", "default"); got != tt.want {
				t.Errorf("ParseString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"42", 42},
		{"-1", -1},
		{"abc", 7},
		{"", 7},
	}
	for _, tt := range tests {
		t.Setenv("TEST_INT", tt.value)
		if got := ParseInt("TEST_INT", 7); got != tt.want {
			t.Errorf("ParseInt(%q) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"5s", 5 * time.Second},
		{"1m30s", 90 * time.Second},
		{"5", time.Second},
		{"", time.Second},
	}
	for _, tt := range tests {
		t.Setenv("TEST_DURATION", tt.value)
		if got := ParseDuration("TEST_DURATION", time.Second); got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"YES", true},
		{"1", true},
		{"false", false},
		{"no", false},
		{"0", false},
		{"maybe", true},
	}
	for _, tt := range tests {
		t.Setenv("TEST_BOOL", tt.value)
		if got := ParseBool("TEST_BOOL", true); got != tt.want {
			t.Errorf("ParseBool(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestParseFloat(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.25")
	if got := ParseFloat("TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("ParseFloat() = %v, want 0.25", got)
	}
	t.Setenv("TEST_FLOAT", "x")
	if got := ParseFloat("TEST_FLOAT", 1); got != 1 {
		t.Errorf("ParseFloat() = %v, want fallback 1", got)
	}
}

func TestIsSensitiveKey(t *testing.T) {
	if !isSensitiveKey("VC_APP_ACCESS_TOKEN") {
		t.Error("access token must be treated as sensitive")
	}
	if isSensitiveKey("STREAMCACHE_LISTEN") {
		t.Error("listen address is not sensitive")
	}
}
