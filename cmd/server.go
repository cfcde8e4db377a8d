package cmd

import (
	"QueueFM/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动QueueFM服务器",
	Long:  `启动HTTP服务器：恢复已保存的房间队列，提供队列操作API和听众WebSocket，退出时保存所有房间快照`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Start(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
