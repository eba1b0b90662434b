package main

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	nonceChain   string
	nonceAddress string
)

var nonceCmd = &cobra.Command{
	Use:   "nonce",
	Short: "Diagnose and repair the tracked nonce state of a signer",
}

var nonceGapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "Report nonce holes that need operator attention",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		gaps, err := client.GetNonceGaps(ctx, nonceChain, nonceAddress)
		if err != nil {
			return err
		}
		return printJSON(gaps)
	},
}

var nonceResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard the tracked nonce state and resync from the chain",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		state, err := client.ResetNonce(ctx, nonceChain, nonceAddress)
		if err != nil {
			return err
		}
		return printJSON(state)
	},
}

func init() {
	nonceCmd.PersistentFlags().StringVar(&nonceChain, "chain", "", "chain name as configured on the daemon")
	nonceCmd.PersistentFlags().StringVar(&nonceAddress, "address", "", "signer address")
	_ = nonceCmd.MarkPersistentFlagRequired("chain")
	_ = nonceCmd.MarkPersistentFlagRequired("address")

	nonceCmd.AddCommand(nonceGapsCmd, nonceResetCmd)
	rootCmd.AddCommand(nonceCmd)
}
