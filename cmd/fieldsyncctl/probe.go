package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newProbeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Run the configured reachability probe once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := a.cfg.Prober()
			if p == nil {
				return errors.New("no probe configured: set probe.url or probe.addr")
			}
			if !p.Probe(cmd.Context()) {
				fmt.Fprintln(a.out, "offline")
				return errors.New("backend unreachable")
			}
			fmt.Fprintln(a.out, "online")
			return nil
		},
	}
}
