// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides channel helpers with a wall-clock safety
// valve, so a broken test fails instead of hanging.
//
// Everything time-dependent in the code under test runs on a fake
// clock; these helpers are the only place tests use real timeouts.
// All helpers call t.Fatalf on failure.
package testutil
