package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidroman0O/iflowpipe/report"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the run report",
	Run: func(cmd *cobra.Command, args []string) {
		data, err := report.Schema()
		if err != nil {
			exitf("Error generating schema: %v\n", err)
		}
		fmt.Println(string(data))
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
