// Command sglctl is the operator tool for sglbot: schema migrations, the patch
// pools and manual room creation and recording through the admin API.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Version:      "dev",
	Use:          "sglctl",
	Short:        "Operates an sglbot deployment",
	SilenceUsage: true,
}

func main() {
	_ = godotenv.Load()
	rootCmd.AddCommand(migrateCmd(), patchesCmd(), createCmd(), recordCmd(), roomsCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
