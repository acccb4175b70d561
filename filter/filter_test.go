// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package filter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/netrequester/config"
	"github.com/katzenpost/netrequester/core/log"
)

const allowedList = `# hosts the operator is happy to serve
example.com
Keybase.IO.
192.0.2.7
198.51.100.0/24
2001:db8::/48
`

func newTestFilter(t *testing.T, list string, cidrs ...string) (*OutboundRequestFilter, *config.Filter) {
	dataDir := t.TempDir()
	cfg := &config.Filter{
		DataDir:      dataDir,
		AllowedList:  "allowed.list",
		UnknownDB:    "unknown.db",
		AllowedCIDRs: cidrs,
	}
	if list != "" {
		require.NoError(t, os.WriteFile(cfg.AllowedListPath(), []byte(list), 0600))
	}
	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(t, err)
	f, err := New(cfg, logBackend.GetLogger("filter"))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f, cfg
}

func TestFilterCheck(t *testing.T) {
	require := require.New(t)

	f, _ := newTestFilter(t, allowedList, "10.0.0.0/8")

	for _, allowed := range []string{
		"example.com:443",
		"www.example.com:80",
		"deep.sub.example.com:8080",
		"EXAMPLE.com.:443",
		"keybase.io:443",
		"api.keybase.io:443",
		"192.0.2.7:22",
		"198.51.100.200:80",
		"[2001:db8::1]:443",
		"10.20.30.40:80",
		"example.com",
	} {
		require.True(f.Check(allowed), allowed)
	}

	for _, denied := range []string{
		"blocked.example:80",
		"example.org:443",
		"notexample.com:443",
		"192.0.2.8:22",
		"[2001:db9::1]:443",
		":80",
	} {
		require.False(f.Check(denied), denied)
	}
}

func TestFilterRecordsUnknownHosts(t *testing.T) {
	require := require.New(t)

	f, _ := newTestFilter(t, allowedList)

	require.False(f.Check("blocked.example:80"))
	require.False(f.Check("blocked.example:443"))
	require.False(f.Check("other.invalid:80"))
	require.True(f.Check("example.com:80"))

	h, ok := f.UnknownHosts().Get("blocked.example")
	require.True(ok)
	require.Equal(uint64(2), h.Hits)
	require.False(h.FirstSeen.IsZero())

	_, ok = f.UnknownHosts().Get("example.com")
	require.False(ok)

	hosts, err := f.UnknownHosts().Hosts()
	require.NoError(err)
	require.Len(hosts, 2)
	require.Equal("blocked.example", hosts[0].Host)
	require.Equal("other.invalid", hosts[1].Host)
}

func TestFilterMissingListAndReload(t *testing.T) {
	require := require.New(t)

	f, cfg := newTestFilter(t, "")
	_, err := os.Stat(cfg.AllowedListPath())
	require.NoError(err, "missing allowed list is created")
	require.False(f.Check("example.com:443"))

	require.NoError(os.WriteFile(cfg.AllowedListPath(), []byte("example.com\n"), 0600))
	require.NoError(f.Reload())
	require.True(f.Check("example.com:443"))

	require.NoError(os.WriteFile(cfg.AllowedListPath(), []byte("300.1.2.3/8\n"), 0600))
	require.NoError(f.Reload(), "an unparsable CIDR is kept as a domain entry")
}

func TestUnknownHostsPersist(t *testing.T) {
	require := require.New(t)

	dbFile := filepath.Join(t.TempDir(), "unknown.db")
	u, err := OpenUnknownHosts(dbFile)
	require.NoError(err)
	require.NoError(u.Record("a.invalid"))
	require.NoError(u.Close())

	u, err = OpenUnknownHosts(dbFile)
	require.NoError(err)
	defer u.Close()
	require.NoError(u.Record("a.invalid"))
	h, ok := u.Get("a.invalid")
	require.True(ok)
	require.Equal(uint64(2), h.Hits)
}
