package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sahasrahbot/sglbot/db"
)

func openDB() (*sql.DB, error) {
	return db.Connect(os.Getenv("DB_DSN"))
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				database, err := openDB()
				if err != nil {
					return err
				}
				defer database.Close()
				if err := db.RunMigrations(database); err != nil {
					return err
				}
				return printVersion(cmd, database)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				database, err := openDB()
				if err != nil {
					return err
				}
				defer database.Close()
				if err := db.MigrateDown(database); err != nil {
					return err
				}
				return printVersion(cmd, database)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				database, err := openDB()
				if err != nil {
					return err
				}
				defer database.Close()
				return printVersion(cmd, database)
			},
		},
	)
	return cmd
}

func printVersion(cmd *cobra.Command, database *sql.DB) error {
	v, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty)\n", v)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version %d\n", v)
	return nil
}
