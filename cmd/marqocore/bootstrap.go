package main

import (
	"context"
	"fmt"
	"time"

	"github.com/marqocore/vespacore/pkg/indexmanager/schemagen"
	"github.com/spf13/cobra"
)

func newBootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Install the default query profile and marqo_config.json marker",
		Long:  "Bootstrap is idempotent: it is a no-op if this marqocore version's config marker is already present.",
		RunE:  runBootstrap,
	}
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	st, err := buildStack()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	defer st.close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fmt.Println("bootstrapping application package...")
	did, err := st.indexes.Bootstrap(ctx, schemagen.DefaultQueryProfileXML())
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if !did {
		fmt.Println("already bootstrapped, nothing to do")
		return nil
	}
	fmt.Println("bootstrap complete")
	return nil
}

func newRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Roll back the most recent index-settings change from the backup archive",
		RunE:  runRollback,
	}
}

func runRollback(cmd *cobra.Command, args []string) error {
	st, err := buildStack()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	defer st.close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fmt.Println("rolling back to the last backup archive...")
	if err := st.indexes.Rollback(ctx); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	fmt.Println("rollback complete")
	return nil
}
