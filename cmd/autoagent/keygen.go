package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Strob0t/AutoAgent/internal/secrets"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an age identity for sealing agent wallet keys",
		Long: "Prints a new age identity. Store it as WALLET_AGE_IDENTITY (or wallet.age_identity);\n" +
			"agent private keys sealed with it can only be opened with the same identity.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			identity, recipient, err := secrets.GenerateIdentity()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "# public key: %s\n%s\n", recipient, identity)
			return err
		},
	}
}
