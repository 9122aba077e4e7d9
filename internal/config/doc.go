// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration.
//
// Precedence is ENV > YAML file > defaults. The file is decoded strictly:
// unknown keys and trailing documents are rejected. The result is validated
// as a whole and every problem is reported at once.
package config
