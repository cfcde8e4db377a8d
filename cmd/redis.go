package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"QueueFM/cache"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试Redis连接是否成功，进行基本读写操作，并列出已保存快照的房间。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始测试Redis连接...")
		fmt.Printf("Redis配置: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		if err := cache.ConnectRedis(cfg); err != nil {
			log.Fatalf("无法连接到Redis: %v", err)
		}
		defer func() {
			if err := cache.CloseRedis(); err != nil {
				log.Printf("关闭Redis连接时发生错误: %v", err)
			}
		}()
		fmt.Println("Redis连接成功！")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		fmt.Println("开始测试Redis基本操作...")
		if err := cache.CheckRedis(ctx, cache.RedisClient); err != nil {
			log.Fatalf("Redis操作测试失败: %v", err)
		}
		fmt.Println("Redis基本操作测试成功！")

		rooms, err := cache.NewSnapshotCache(cache.RedisClient, cfg.SnapshotTTL).List(ctx)
		if err != nil {
			log.Fatalf("读取快照列表失败: %v", err)
		}
		fmt.Printf("已保存快照的房间: %d\n", len(rooms))
		fmt.Println("Redis测试完成。")
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
