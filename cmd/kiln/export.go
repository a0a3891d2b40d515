package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kiln/internal/catalogdisk"
	"kiln/internal/gen"
	"kiln/internal/observ"
)

var (
	exportTarget string
	exportDir    string
)

func init() {
	exportCmd.Flags().StringVar(&exportTarget, "target", "", "build target (amd64|arm64|arm|riscv64)")
	exportCmd.Flags().StringVar(&exportDir, "out", "", "store directory (defaults to the user cache)")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Build the catalog and store its summary on disk",
	Long: `Builds the catalog for the configured target, condenses it to a summary
and writes the summary to the on-disk store, keyed by the build
configuration digest.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		timer := observ.NewTimer()

		manifest, _, err := loadProjectManifest(".")
		if err != nil {
			return err
		}
		cfg, err := buildConfig(exportTarget, manifest)
		if err != nil {
			return err
		}

		var cat *gen.Catalog
		if err := timer.Measure("build", func() error {
			cat, err = gen.NewCatalog(cfg)
			return err
		}); err != nil {
			return err
		}

		var store *catalogdisk.Store
		if exportDir != "" {
			store, err = catalogdisk.OpenAt(exportDir)
		} else {
			store, err = catalogdisk.Open("kiln")
		}
		if err != nil {
			return err
		}

		sum := catalogdisk.Summarize(cat)
		key := catalogdisk.Key(sum)
		if err := timer.Measure("export", func() error {
			return store.Put(key, sum)
		}); err != nil {
			return err
		}

		if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "stored %d templates for %s as %s\n",
				len(sum.Templates), sum.Target, key)
		}
		if timings, _ := cmd.Flags().GetBool("timings"); timings {
			fmt.Fprint(cmd.ErrOrStderr(), timer.Summary())
		}
		return nil
	},
}
