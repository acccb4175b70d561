// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package common

import (
	"bytes"
	"errors"
	"testing"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestIsUsageError(t *testing.T) {
	require := require.New(t)

	require.True(IsUsageError(errors.New(`required flag(s) "config" not set`)))
	require.True(IsUsageError(errors.New("unknown flag: --bogus")))
	require.True(IsUsageError(errors.New("failed to load config file '/nope': open /nope: no such file or directory")))
	require.False(IsUsageError(errors.New("server: failed to connect to the client daemon")))
}

func TestErrorHandlerWithUsage(t *testing.T) {
	require := require.New(t)

	cmd := &cobra.Command{Use: "netrequester", Short: "test command", Run: func(*cobra.Command, []string) {}}
	handler := ErrorHandlerWithUsage(cmd)

	var usage bytes.Buffer
	cmd.SetOut(&usage)
	handler(&usage, fang.Styles{}, errors.New("unknown flag: --bogus"))
	require.Contains(usage.String(), "unknown flag: --bogus")
	require.Contains(usage.String(), "netrequester")

	var other bytes.Buffer
	handler(&other, fang.Styles{}, errors.New("connection refused"))
	require.Contains(other.String(), "connection refused")
	require.Contains(other.String(), "--help")
}
