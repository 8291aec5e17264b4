package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/punchamoorthee/tokenledger/internal/store"
	"github.com/spf13/cobra"
)

var Version = "dev"

var dbSource string

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:          "ledgerctl",
		Short:        "Operator tooling for the token ledger",
		Version:      Version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&dbSource, "db", os.Getenv("DB_SOURCE"), "PostgreSQL connection string (default $DB_SOURCE)")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(auditCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context) (*store.Store, error) {
	if dbSource == "" {
		return nil, fmt.Errorf("no database configured: pass --db or set DB_SOURCE")
	}
	return store.NewStore(ctx, dbSource)
}
