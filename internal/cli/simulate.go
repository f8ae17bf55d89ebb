package cli

import (
	"github.com/spf13/cobra"

	"github.com/qzbxw/velox-sub000/internal/app"
)

var (
	simulateGroup  string
	simulateKinds  []string
	simulateDryRun bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次告警并投递到已配置的通道",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Group:  simulateGroup,
			Kinds:  simulateKinds,
			DryRun: simulateDryRun,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateGroup, "group", "", "使用该组的 Telegram chat 与通道")
	simulateCmd.Flags().StringSliceVar(&simulateKinds, "kind", nil, "只模拟指定类型 (delta_critical, margin_low, ...)")
	simulateCmd.Flags().BoolVar(&simulateDryRun, "dry-run", false, "打印消息而不发送")
}
