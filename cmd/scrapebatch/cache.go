package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the response cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cache entry counts and size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, closeCache, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer closeCache()
			if c == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Cache disabled (backend: none)")
				return nil
			}

			stats, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			renderCacheStats(cmd.OutOrStdout(), stats)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired and corrupt entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, closeCache, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer closeCache()
			if c == nil {
				return nil
			}

			n, err := c.Cleanup(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired entries\n", n)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every cache entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, closeCache, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer closeCache()
			if c == nil {
				return nil
			}

			n, err := c.Clear(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries\n", n)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "keys",
		Short: "List cached keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, closeCache, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer closeCache()
			if c == nil {
				return nil
			}

			keys, err := c.Keys(cmd.Context())
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	})

	return cmd
}
