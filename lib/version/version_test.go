// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestInfoMarksDirtyBuilds(t *testing.T) {
	savedCommit, savedDirty := GitCommit, GitDirty
	t.Cleanup(func() { GitCommit, GitDirty = savedCommit, savedDirty })

	GitCommit, GitDirty = "abc1234", "false"
	if got := Info(); !strings.Contains(got, "(abc1234,") {
		t.Errorf("Info() = %q, want the clean commit", got)
	}
	GitDirty = "true"
	if got := Info(); !strings.Contains(got, "abc1234-dirty") {
		t.Errorf("Info() = %q, want a dirty marker", got)
	}
	if got := Full(); !strings.HasPrefix(got, Info()) || !strings.Contains(got, "go=") {
		t.Errorf("Full() = %q", got)
	}
}
