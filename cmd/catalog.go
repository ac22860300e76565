package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// catalogCmd groups the read-only catalog listings
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the integration packages and iFlows",
}

var catalogPackagesCmd = &cobra.Command{
	Use:   "packages",
	Short: "List the integration packages",
	Run: func(cmd *cobra.Command, args []string) {
		pkgs, err := loadCatalog().ListPackages(context.Background())
		if err != nil {
			exitf("Error listing packages: %v\n", err)
		}
		fmt.Printf("%-14s %-24s %-8s %s\n", "ID", "NAME", "VERSION", "IFLOWS")
		for _, p := range pkgs {
			fmt.Printf("%-14s %-24s %-8s %d\n", p.ID, p.Name, p.Version, p.IFlowCount)
		}
	},
}

var catalogIFlowsCmd = &cobra.Command{
	Use:   "iflows [package-id...]",
	Short: "List the iFlows of the given packages",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flows, err := loadCatalog().ListIFlowsForPackages(context.Background(), args)
		if err != nil {
			exitf("Error listing iFlows: %v\n", err)
		}
		fmt.Printf("%-16s %-26s %-12s %-8s %-10s %s\n", "ID", "NAME", "PACKAGE", "VERSION", "COMPLEXITY", "DEPENDENCIES")
		for _, f := range flows {
			fmt.Printf("%-16s %-26s %-12s %-8s %-10s %d\n",
				f.ID, f.Name, f.PackageID, f.Version, f.Complexity, len(f.Dependencies))
		}
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogPackagesCmd)
	catalogCmd.AddCommand(catalogIFlowsCmd)
}
