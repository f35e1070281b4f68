// Package main provides the marqocore CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "marqocore",
		Short: "marqocore - hybrid lexical/tensor vector search indexing core",
		Long: `marqocore operates the store-side application package and index
lifecycle of a hybrid (lexical + tensor) vector search engine:

  • Bootstrap and roll back the deployed query profile and schema bundle
  • Create Structured and SemiStructured indexes; delete indexes by name
  • Reads its store endpoints and lifecycle timeouts from the environment
    (MARQO_VESPA_*, MARQO_LOCK_*, see pkg/config)`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("marqocore v%s (%s)\n", version, commit)
		},
	})

	rootCmd.AddCommand(newBootstrapCmd())
	rootCmd.AddCommand(newRollbackCmd())
	rootCmd.AddCommand(newCreateIndexCmd())
	rootCmd.AddCommand(newDeleteIndexCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
