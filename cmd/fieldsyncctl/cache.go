package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/fieldsync"
)

func newCacheCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the read cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Purge expired and schema-mismatched cache entries and blobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := a.cfg.OpenCacheStore(ctx)
			if err != nil {
				return err
			}
			if store == nil {
				if store, err = a.cfg.OpenStore(ctx); err != nil {
					return err
				}
			}
			defer store.Close(ctx)

			blobs, err := a.cfg.OpenBlobStore()
			if err != nil {
				return err
			}
			if blobs != nil {
				defer blobs.Close(ctx)
			}

			opts, err := a.cfg.CacheOptions(store, blobs)
			if err != nil {
				return err
			}
			opts.SweepInterval = -1
			opts.Logger = a.logger()

			c, err := fieldsync.NewCache(opts)
			if err != nil {
				return err
			}
			defer c.Close(ctx)

			removed := c.Sweep(ctx)
			bytes, count := c.BlobUsage(ctx)
			fmt.Fprintf(a.out, "removed %d entr(ies); blobs: %d using %d bytes\n", removed, count, bytes)
			return nil
		},
	})
	return cmd
}
