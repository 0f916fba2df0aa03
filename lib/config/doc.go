// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the bot's configuration file.
//
// Configuration comes from a single file named by either the
// CHILDSERV_CONFIG environment variable (via [Load]) or the --config
// flag (via [LoadFile]). There is no discovery and no hot reload: the
// file is read once at startup into an immutable [Config].
//
// The file is YAML. Files ending in .json or .jsonc are accepted too:
// comments and trailing commas are stripped with tidwall/jsonc and the
// result is decoded by the same YAML decoder, so one set of struct tags
// serves both syntaxes. Note that Matrix identifiers begin with YAML
// indicator characters ('@', '!', '#') and must be quoted.
//
// Values absent from the file keep their [Default]. After decoding,
// ${VAR} and ${VAR:-default} references in path fields are expanded and
// [Config.Validate] reports every problem at once.
//
// This package depends only on lib/ref.
package config
