package cmd

import (
	"fmt"
	"log"

	"github.com/pxlsspace/PxlsBot/pxlsbot"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and run migrations",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal("Environment variable PXLSBOT_DATABASE_TYPE not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			log.Fatal(
				"Environment variable PXLSBOT_DATABASE not set (must be a valid " +
					"database connection string or sqlite file path)",
			)
		}
		if _, err := pxlsbot.CreateDB(ctx, cfg.DatabaseType, cfg.Database); err != nil {
			log.Fatalf("Error creating database: %v", err)
		}

		fmt.Fprintln(
			cmd.OutOrStdout(),
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
