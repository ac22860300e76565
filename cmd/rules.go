package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidroman0O/iflowpipe/rules"
)

// rulesCmd prints the design guideline catalog
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the design guideline rules checked at design validation",
	Run: func(cmd *cobra.Command, args []string) {
		rs, err := rules.NewCatalog(rules.DefaultCatalog()).ListRules(context.Background())
		if err != nil {
			exitf("Error listing rules: %v\n", err)
		}
		for _, r := range rs {
			fmt.Printf("%-6s %-8s %-14s %4.1f  %s\n", r.ID, r.Severity, r.Category, r.Weight, r.Name)
			if r.Description != "" {
				fmt.Printf("       %s\n", r.Description)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(rulesCmd)
}
