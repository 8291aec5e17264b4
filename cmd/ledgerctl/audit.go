package main

import (
	"encoding/json"
	"fmt"

	"github.com/punchamoorthee/tokenledger/internal/cache"
	"github.com/punchamoorthee/tokenledger/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var auditUser int64

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Check that a user's ledger reconstructs their balance",
	Long: `Compare opening balance plus the sum of ledger deltas against the
stored balance. Exits non-zero when they disagree.

Examples:
  ledgerctl audit --user 42`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if auditUser <= 0 {
			return fmt.Errorf("--user must be a positive user id")
		}

		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		audits := service.NewTopUpService(st, cache.NopBalanceCache{}, zap.NewNop())
		audit, err := audits.Audit(ctx, auditUser)
		if err != nil {
			return fmt.Errorf("audit user %d: %w", auditUser, err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(audit); err != nil {
			return err
		}
		if !audit.Consistent {
			return fmt.Errorf("ledger for user %d is inconsistent: %d + %d != %d",
				auditUser, audit.OpeningBalance, audit.SumDelta, audit.Balance)
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().Int64Var(&auditUser, "user", 0, "user id to audit")
	_ = auditCmd.MarkFlagRequired("user")
}
