// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides fleet configuration loading.
//
// Configuration is loaded from a single file specified by either the
// GAMEFLEET_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file
// search. Files are YAML, or JSON with comments when the name ends in
// .json or .jsonc.
//
// The file describes the managed servers (one section per connection
// mode each server supports) and tunes the manager, pool, and journal.
// Environment-specific sections (development, staging, production)
// override base values when [Config].Environment matches. [Config.Validate]
// applies stricter rules in production: retries must be bounded and
// bridge connections to non-loopback hosts must use TLS.
//
// ${VAR} and ${VAR:-default} patterns are expanded in passwords,
// tokens, terminal commands, arguments, environment values, working
// directories, and the journal path.
//
// Process settings that are not part of the fleet description (config
// path, log level and format) come from the environment through
// [LoadRuntime].
//
// This package depends on no other gamefleet packages.
package config
