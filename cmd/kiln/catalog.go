package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"kiln/internal/gen"
	"kiln/internal/observ"
)

var (
	catalogTarget string
	catalogStubs  bool
)

func init() {
	catalogCmd.Flags().StringVar(&catalogTarget, "target", "", "build target (amd64|arm64|arm|riscv64)")
	catalogCmd.Flags().BoolVar(&catalogStubs, "stubs", false, "include runtime stub templates in the listing")
}

var catalogCmd = &cobra.Command{
	Use:   "catalog [template...]",
	Short: "Build the template catalog and print its listing",
	Long: `Builds the full lowering-template catalog for the configured target and
prints the named templates, or every template when none are named.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		timer := observ.NewTimer()

		manifest, _, err := loadProjectManifest(".")
		if err != nil {
			return err
		}
		cfg, err := buildConfig(catalogTarget, manifest)
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

		out := cmd.OutOrStdout()
		styled := colorEnabled(cmd, os.Stdout)
		header := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))

		if len(args) > 0 {
			shown := 0
			for _, pattern := range args {
				matched := false
				for _, t := range cat.Templates() {
					if !matchTemplate(t.Name, pattern) {
						continue
					}
					matched = true
					if shown > 0 {
						fmt.Fprintln(out)
					}
					t.Dump(out)
					shown++
				}
				if !matched {
					return fmt.Errorf("no template named %q", pattern)
				}
			}
		} else {
			shown := 0
			for _, t := range cat.Templates() {
				if t.IsStub && !catalogStubs {
					continue
				}
				if shown > 0 {
					fmt.Fprintln(out)
				}
				if styled {
					fmt.Fprintln(out, header.Render("= "+t.Name))
				}
				t.Dump(out)
				shown++
			}
			summary := fmt.Sprintf("%d templates for %s", shown, cfg.Arch.Name)
			if styled {
				summary = header.Render(summary)
			}
			fmt.Fprintln(out, summary)
		}

		if timings, _ := cmd.Flags().GetBool("timings"); timings {
			fmt.Fprint(cmd.ErrOrStderr(), timer.Summary())
		}
		return nil
	},
}

// matchTemplate accepts an exact template name or a bare family name,
// letting "checkcast" select every checkcast variant.
func matchTemplate(name, pattern string) bool {
	return name == pattern || strings.HasPrefix(name, pattern+"<") || strings.HasPrefix(name, pattern+":")
}
