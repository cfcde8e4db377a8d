package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"QueueFM/server"

	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "房间快照管理",
	Long:  `查看和删除快照存储（由 SNAPSHOT_STORE 指定 redis 或 mysql）中的房间快照。`,
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出已保存快照的房间",
	Run: func(cmd *cobra.Command, args []string) {
		store, closeStore, err := server.OpenSnapshotStore(cfg)
		if err != nil {
			log.Fatalf("连接快照存储失败: %v", err)
		}
		defer closeStore()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		rooms, err := store.List(ctx)
		if err != nil {
			log.Fatalf("读取快照列表失败: %v", err)
		}
		fmt.Printf("%-24s %8s %-20s\n", "房间", "曲目数", "保存时间")
		for _, roomID := range rooms {
			snap, err := store.Load(ctx, roomID)
			if err != nil {
				fmt.Printf("%-24s 读取失败: %v\n", roomID, err)
				continue
			}
			if snap == nil {
				continue
			}
			fmt.Printf("%-24s %8d %-20s\n", roomID, len(snap.Items), snap.SavedAt.Format("2006-01-02 15:04:05"))
		}
	},
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show <room>",
	Short: "以 JSON 输出房间快照",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store, closeStore, err := server.OpenSnapshotStore(cfg)
		if err != nil {
			log.Fatalf("连接快照存储失败: %v", err)
		}
		defer closeStore()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		snap, err := store.Load(ctx, args[0])
		if err != nil {
			log.Fatalf("读取快照失败: %v", err)
		}
		if snap == nil {
			log.Fatalf("房间 %s 没有快照", args[0])
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap.ToRecord()); err != nil {
			log.Fatalf("输出快照失败: %v", err)
		}
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <room>...",
	Short: "删除房间快照",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store, closeStore, err := server.OpenSnapshotStore(cfg)
		if err != nil {
			log.Fatalf("连接快照存储失败: %v", err)
		}
		defer closeStore()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		for _, roomID := range args {
			if err := store.Delete(ctx, roomID); err != nil {
				log.Fatalf("删除房间 %s 的快照失败: %v", roomID, err)
			}
			fmt.Printf("已删除房间 %s 的快照\n", roomID)
		}
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotListCmd, snapshotShowCmd, snapshotDeleteCmd)
	rootCmd.AddCommand(snapshotCmd)
}
