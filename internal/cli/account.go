package cli

import (
	"github.com/spf13/cobra"
)

func newAccountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "account",
		Short: "Print the account summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			summary, err := a.broker.Account(cmd.Context())
			if err != nil {
				return err
			}
			return writeIndented(cmd.OutOrStdout(), summary)
		},
	}
}
