// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestInfoUsesLinkerValues(t *testing.T) {
	defer func(commit, dirty string) { GitCommit, GitDirty = commit, dirty }(GitCommit, GitDirty)
	GitCommit, GitDirty = "abc1234", "true"

	if got := Info(); !strings.HasPrefix(got, Version+" (abc1234-dirty, ") {
		t.Errorf("Info() = %q", got)
	}
}

func TestInfoFallsBackToBuildInfo(t *testing.T) {
	defer func(read func() (*debug.BuildInfo, bool)) { readBuildInfo = read }(readBuildInfo)
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.modified", Value: "false"},
		}}, true
	}

	if got := Info(); !strings.Contains(got, "(0123456789ab, ") {
		t.Errorf("Info() = %q", got)
	}
}

func TestUserAgent(t *testing.T) {
	if got := UserAgent(); got != "childserv/"+Version {
		t.Errorf("UserAgent() = %q", got)
	}
	if !strings.Contains(Full(), "Go: ") {
		t.Errorf("Full() = %q", Full())
	}
}
