// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/netrequester/config"
	"github.com/katzenpost/netrequester/overlay"
	"github.com/katzenpost/netrequester/socks5"
)

// clientDaemon delivers frames to the network requester, hands the first
// request it receives to requestCh and closes the connection cleanly once
// closeCh is closed.
func clientDaemon(t *testing.T, frames [][]byte, requestCh chan<- *overlay.ClientRequest, closeCh <-chan struct{}) *httptest.Server {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer ws.Close()
		for _, f := range frames {
			if err := ws.WriteMessage(websocket.BinaryMessage, f); err != nil {
				return
			}
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		req, err := overlay.DeserializeClientRequest(data)
		if err != nil {
			t.Errorf("bad request frame: %v", err)
			return
		}
		requestCh <- req
		<-closeCh

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, overlayAddress string, openProxy bool) *config.Config {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "allowed.list"), []byte("example.com\n"), 0600))
	cfg, err := config.Load([]byte(fmt.Sprintf(`
[Logging]
  Disable = true

[Overlay]
  Address = %q
  HandshakeTimeout = 2

[Relay]
  OpenProxy = %v

[Filter]
  DataDir = %q

[Statistics]
  Enable = true
`, overlayAddress, openProxy, dataDir)))
	require.NoError(t, err)
	return cfg
}

func TestServerRejectsBlockedHost(t *testing.T) {
	require := require.New(t)

	tag := overlay.SenderTag{1, 2, 3}
	connect, err := socks5.NewConnect(12, "blocked.example:443", nil).Marshal()
	require.NoError(err)
	frame, err := (&overlay.ServerResponse{Received: &overlay.ReconstructedMessage{
		Message:   connect,
		SenderTag: &tag,
	}}).Serialize()
	require.NoError(err)

	requestCh := make(chan *overlay.ClientRequest, 1)
	closeCh := make(chan struct{})
	srv := clientDaemon(t, [][]byte{frame}, requestCh, closeCh)

	s, err := New(testConfig(t, "ws"+strings.TrimPrefix(srv.URL, "http"), false))
	require.NoError(err)
	defer s.Shutdown()
	require.NotNil(s.Filter())

	var req *overlay.ClientRequest
	select {
	case req = <-requestCh:
	case <-time.After(5 * time.Second):
		require.FailNow("no response from the network requester")
	}
	require.NotNil(req.Reply)
	require.Equal(tag, req.Reply.SenderTag)
	msg, err := socks5.ParseMessage(req.Reply.Message)
	require.NoError(err)
	require.NotNil(msg.NetworkRequesterResponse)
	require.Equal(`Domain "blocked.example:443" failed filter check`, msg.NetworkRequesterResponse.Message)

	h, ok := s.Filter().UnknownHosts().Get("blocked.example")
	require.True(ok)
	require.Equal(uint64(1), h.Hits)

	// The client daemon closing the connection terminates the server.
	close(closeCh)
	require.NoError(s.Wait())
	require.Equal(int64(0), s.Provider().ActiveSessions())
}

func TestServerOpenProxyHasNoFilter(t *testing.T) {
	require := require.New(t)

	requestCh := make(chan *overlay.ClientRequest, 1)
	srv := clientDaemon(t, nil, requestCh, nil)

	s, err := New(testConfig(t, "ws"+strings.TrimPrefix(srv.URL, "http"), true))
	require.NoError(err)
	require.Nil(s.Filter())
	s.ReloadFilter()
	s.RotateLog()
	s.Shutdown()
	require.NoError(s.Wait())
}

func TestServerOpenProxyWithoutFilterBlock(t *testing.T) {
	require := require.New(t)

	srv := clientDaemon(t, nil, make(chan *overlay.ClientRequest, 1), nil)
	cfg, err := config.Load([]byte(fmt.Sprintf(`
[Logging]
  Disable = true

[Overlay]
  Address = %q

[Relay]
  OpenProxy = true
`, "ws"+strings.TrimPrefix(srv.URL, "http"))))
	require.NoError(err)
	require.Nil(cfg.Filter)

	s, err := New(cfg)
	require.NoError(err)
	require.Nil(s.Filter())
	s.Shutdown()
	require.NoError(s.Wait())
}

func TestServerNoClientDaemon(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	_, err := New(testConfig(t, addr, false))
	require.Error(t, err)
}
