// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/katzenpost/netrequester/filter"
)

func newUnknownHostsCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "unknown-hosts",
		Short: "List the hosts the outbound request filter rejected",
		Long: `List every host the outbound request filter rejected, most requested
first, with the number of rejected connects and when it was first seen.
Review it to decide which hosts to add to the allowed hosts list.

The ledger is locked while the network requester runs, stop it first.`,
		Example: `  # List the rejected hosts
  netrequester unknown-hosts -c netrequester.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listUnknownHosts(cmd.OutOrStdout(), configFile)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "",
		"path to the network requester configuration file (TOML format)")
	cmd.MarkFlagRequired("config")

	return cmd
}

func listUnknownHosts(w io.Writer, configFile string) error {
	nrCfg, err := loadConfig(Config{ConfigFile: configFile})
	if err != nil {
		return err
	}
	if nrCfg.Filter == nil {
		return errors.New("the configuration has no Filter block, so there is no unknown hosts ledger")
	}

	f := nrCfg.Filter.UnknownDBPath()
	if _, err := os.Stat(f); err != nil {
		return fmt.Errorf("failed to find the unknown hosts ledger: %v", err)
	}
	ledger, err := filter.OpenUnknownHosts(f)
	if err != nil {
		return fmt.Errorf("failed to open the unknown hosts ledger '%v' (is the network requester running?): %v", f, err)
	}
	defer ledger.Close()

	hosts, err := ledger.Hosts()
	if err != nil {
		return fmt.Errorf("failed to read the unknown hosts ledger: %v", err)
	}
	if len(hosts) == 0 {
		fmt.Fprintln(w, "No host has been rejected.")
		return nil
	}
	fmt.Fprintf(w, "%-40s %8s  %s\n", "HOST", "HITS", "FIRST SEEN")
	for _, h := range hosts {
		fmt.Fprintf(w, "%-40s %8d  %s\n", h.Host, h.Hits, h.FirstSeen.UTC().Format(time.RFC3339))
	}
	return nil
}
