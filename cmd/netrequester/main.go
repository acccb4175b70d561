// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// network requester: the exit side of the socks5 tunnel
package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/katzenpost/netrequester/common"
	"github.com/katzenpost/netrequester/config"
	"github.com/katzenpost/netrequester/internal/profiling"
	"github.com/katzenpost/netrequester/server"
)

// Config holds the command line configuration.
type Config struct {
	ConfigFile string
	OpenProxy  bool
}

func newRootCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "netrequester",
		Short: "Katzenpost network requester",
		Long: `The network requester is the exit side of the socks5 tunnel. Clients
send it connect and send requests through the overlay; it opens TCP
connections to permitted remote hosts on their behalf and relays the
data back, either to a known recipient or anonymously through a
reply tag.

Signals:
• SIGHUP reopens the log file and reloads the allowed hosts list
• SIGINT and SIGTERM tear down every relayed connection and exit`,
		Example: `
  # Start the network requester
  netrequester --config /etc/katzenpost/netrequester.toml

  # Relay to any host, ignoring the allowed hosts list
  netrequester -c netrequester.toml --open-proxy

  # List the hosts the allowed hosts list rejected
  netrequester unknown-hosts -c netrequester.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNetworkRequester(cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.ConfigFile, "config", "c", "",
		"path to the network requester configuration file (TOML format)")
	cmd.Flags().BoolVar(&cfg.OpenProxy, "open-proxy", false,
		"relay to any host without consulting the allowed hosts list")
	cmd.MarkFlagRequired("config")

	cmd.AddCommand(newUnknownHostsCommand())

	return cmd
}

func main() {
	common.ExecuteWithFang(newRootCommand())
}

func loadConfig(cfg Config) (*config.Config, error) {
	nrCfg, err := config.LoadFile(cfg.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file '%v': %v", cfg.ConfigFile, err)
	}
	if cfg.OpenProxy {
		nrCfg.Relay.OpenProxy = true
	}
	return nrCfg, nil
}

func runNetworkRequester(cfg Config) error {
	// Ensure that a sane number of OS threads is allowed.
	if os.Getenv("GOMAXPROCS") == "" {
		nProcs := runtime.GOMAXPROCS(0)
		nCPU := runtime.NumCPU()
		if nProcs < nCPU {
			runtime.GOMAXPROCS(nCPU)
		}
	}

	nrCfg, err := loadConfig(cfg)
	if err != nil {
		return err
	}

	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)

	svr, err := server.New(nrCfg)
	if err != nil {
		return fmt.Errorf("failed to spawn network requester: %v", err)
	}
	defer svr.Shutdown()

	stopProfiling, err := profiling.Start(svr.LogBackend().GetLogger("profiling"), "netrequester")
	if err != nil {
		return fmt.Errorf("failed to start profiling: %v", err)
	}
	defer stopProfiling()

	// Halt gracefully on SIGINT/SIGTERM.
	go func() {
		<-haltCh
		svr.Shutdown()
	}()

	// Reopen the log and reload the allowed hosts list upon SIGHUP.
	go func() {
		for range hupCh {
			svr.RotateLog()
			svr.ReloadFilter()
		}
	}()

	return svr.Wait()
}
