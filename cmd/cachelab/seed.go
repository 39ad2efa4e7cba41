package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/VitorFirmino/cachelab/storage/sqlite"
)

func newSeedCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Reset the catalog to the demo data set",
		Long: `seed replaces every category, product and event with the demo data set
(or the YAML document given by --file) and restores the default cache
profiles. Existing rows are deleted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data := sqlite.BuiltinSeed()
			if file != "" {
				raw, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read seed file: %w", err)
				}
				if data, err = sqlite.ParseSeed(raw); err != nil {
					return err
				}
			}
			defaults, err := loadDefaults(a.cfg)
			if err != nil {
				return err
			}

			store, err := openStore(cmd.Context(), a.cfg, a.log, false)
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := store.Seed(cmd.Context(), data, defaults)
			if err != nil {
				return err
			}
			a.printf("seeded %d categories, %d products, %d events, %d profiles\n",
				res.Categories, res.Products, res.Events, res.Profiles)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML seed document (default: built-in demo data)")
	return cmd
}
