package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/perch/catalog"
)

func Errors(config *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "List the error catalog.",
		Run: func(cmd *cobra.Command, _ []string) {
			entries := catalog.Entries()
			if config.GetString("output") == "yaml" {
				if err := printYAML(cmd.OutOrStdout(), entries); err != nil {
					log.Print(err)
				}
				return
			}
			table := getTable([]string{"Code", "Name", "Message"}, cmd.OutOrStdout())
			for _, entry := range entries {
				table.Append([]string{fmt.Sprintf("%d", entry.Code), entry.Name, entry.Template})
			}
			table.Render()
		},
	}
	cmd.Flags().StringP("output", "o", "table", "Output format (table or yaml).")
	return cmd
}
