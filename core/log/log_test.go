// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"
)

func TestLogLevels(t *testing.T) {
	require := require.New(t)

	_, err := New("", "bogus", false)
	require.Error(err)

	for _, l := range []string{"error", "WARNING", "notice", "Info", "DEBUG"} {
		b, err := New("", l, true)
		require.NoError(err)
		require.NotNil(b.GetLogger("test"))
	}
}

func TestLogFileAndRotate(t *testing.T) {
	require := require.New(t)

	f := filepath.Join(t.TempDir(), "relay.log")
	b, err := New(f, "INFO", false)
	require.NoError(err)
	require.True(b.IsEnabledFor(logging.INFO, "provider"))
	require.False(b.IsEnabledFor(logging.DEBUG, "provider"))

	l := b.GetLogger("provider")
	l.Info("hello")
	require.NoError(b.Rotate())
	l.Info("after rotate")
	b.GetGoLogger("stats_http", "WARNING").Println("from the go logger")

	raw, err := os.ReadFile(f)
	require.NoError(err)
	require.Contains(string(raw), "provider: hello")
	require.Contains(string(raw), "provider: after rotate")
	require.Contains(string(raw), "stats_http: from the go logger")
}
