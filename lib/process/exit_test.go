// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"errors"
	"testing"
)

func TestWriteErrorSingleLine(t *testing.T) {
	var buffer bytes.Buffer
	writeError(&buffer, errors.New("config: missing homeserver_url"))
	if got := buffer.String(); got != "error: config: missing homeserver_url\n" {
		t.Errorf("output = %q", got)
	}
}

func TestWriteErrorJoined(t *testing.T) {
	var buffer bytes.Buffer
	writeError(&buffer, errors.Join(errors.New("first"), errors.New("second")))
	if got := buffer.String(); got != "error:\n  first\n  second\n" {
		t.Errorf("output = %q", got)
	}
}

func TestFatalExitsNonZero(t *testing.T) {
	defer func(original func(int)) { exit = original }(exit)
	var code int
	exit = func(c int) { code = c }

	Fatal(errors.New("boom"))
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}
