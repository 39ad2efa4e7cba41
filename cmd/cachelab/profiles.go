package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/VitorFirmino/cachelab/profile"
	"github.com/VitorFirmino/cachelab/storefront"
)

func newProfilesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Inspect and tune cache profiles",
	}
	cmd.AddCommand(newProfilesListCmd(a), newProfilesSetCmd(a))
	return cmd
}

func newProfilesListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the active TTL of every profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := buildStack(cmd.Context(), a.cfg, a.log)
			if err != nil {
				return err
			}
			defer st.Close()

			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tLABEL\tSTALE\tREVALIDATE\tEXPIRE\tCACHE-CONTROL")
			for _, p := range st.service.Profiles(cmd.Context()) {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
					p.ID, p.Label, p.TTL.Stale, p.TTL.Revalidate, p.TTL.Expire, storefront.CacheControl(p))
			}
			return w.Flush()
		},
	}
}

func newProfilesSetCmd(a *app) *cobra.Command {
	var ttl profile.TTL
	cmd := &cobra.Command{
		Use:   "set <profile>",
		Short: "Persist a new TTL for a profile and invalidate what it covers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := buildStack(cmd.Context(), a.cfg, a.log)
			if err != nil {
				return err
			}
			defer st.Close()

			p, err := st.service.UpdateCacheTTL(cmd.Context(), args[0], ttl)
			if err != nil {
				return err
			}
			a.printf("%s: stale=%d revalidate=%d expire=%d\n", p.ID, p.TTL.Stale, p.TTL.Revalidate, p.TTL.Expire)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&ttl.Stale, "stale", 0, "age in seconds until which an entry is fresh")
	f.IntVar(&ttl.Revalidate, "revalidate", 0, "age in seconds until which a stale entry is served while refreshing")
	f.IntVar(&ttl.Expire, "expire", 0, "age in seconds at which the entry is dropped; 0 disables caching")
	for _, name := range []string{"stale", "revalidate", "expire"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}
