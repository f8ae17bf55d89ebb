package cli

import (
	"github.com/spf13/cobra"

	"github.com/qzbxw/velox-sub000/internal/app"
)

var (
	checkGroup   string
	checkWallets []string
	checkJSON    bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one pass for a group or wallet list and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Check(cmd.Context(), app.CheckOptions{
			Group:   checkGroup,
			Wallets: checkWallets,
			JSON:    checkJSON,
		})
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkGroup, "group", "", "Configured group to check")
	checkCmd.Flags().StringSliceVar(&checkWallets, "wallet", nil, "Ad-hoc wallet address (repeatable)")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Print the snapshot as JSON")
}
