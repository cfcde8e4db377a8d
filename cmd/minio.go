package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"QueueFM/server"
	"QueueFM/storage"

	"github.com/spf13/cobra"
)

var (
	minioRoom    string
	minioStats   bool
	minioLatest  bool
	minioPurge   bool
	minioRestore bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO快照归档管理",
	Long:  `查看和管理MinIO中的快照归档，支持列出归档、查看统计信息、输出最新快照、删除房间的全部归档。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始连接MinIO服务器...")
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		client, err := storage.NewMinio(ctx, cfg)
		if err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}
		fmt.Println("MinIO连接成功！")
		archive := storage.NewSnapshotArchive(client, cfg.MinioBucket)

		switch {
		case minioPurge:
			if minioRoom == "" {
				log.Fatal("删除操作需要指定房间")
			}
			deleted, err := archive.Purge(ctx, minioRoom)
			if err != nil {
				log.Fatalf("删除归档失败 (已删除 %d 个): %v", deleted, err)
			}
			fmt.Printf("\n已删除房间 %s 的 %d 个归档\n", minioRoom, deleted)
		case minioLatest:
			if minioRoom == "" {
				log.Fatal("需要指定房间")
			}
			snap, err := archive.Latest(ctx, minioRoom)
			if err != nil {
				log.Fatalf("读取最新归档失败: %v", err)
			}
			if snap == nil {
				log.Fatalf("房间 %s 没有归档", minioRoom)
			}
			if minioRestore {
				store, closeStore, err := server.OpenSnapshotStore(cfg)
				if err != nil {
					log.Fatalf("连接快照存储失败: %v", err)
				}
				defer closeStore()
				if err := store.Save(ctx, snap); err != nil {
					log.Fatalf("写回快照存储失败: %v", err)
				}
				fmt.Printf("\n已把房间 %s 的最新归档写回快照存储，服务启动或 restore 时生效\n", minioRoom)
				break
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(snap.ToRecord()); err != nil {
				log.Fatalf("输出快照失败: %v", err)
			}
		case minioStats:
			stats, err := archive.Stats(ctx, minioRoom)
			if err != nil {
				log.Fatalf("获取统计信息失败: %v", err)
			}
			fmt.Println("\n归档统计信息:")
			fmt.Printf("  总文件数: %d\n", stats.TotalObjects)
			fmt.Printf("  总大小: %s\n", storage.FormatSize(stats.TotalSize))
			if !stats.LastModified.IsZero() {
				fmt.Printf("  最后修改: %s\n", stats.LastModified.Format("2006-01-02 15:04:05"))
			}
		default:
			objects, err := archive.List(ctx, minioRoom)
			if err != nil {
				log.Fatalf("列出归档失败: %v", err)
			}
			fmt.Printf("\n%-48s %10s %-20s\n", "对象", "大小", "修改时间")
			for _, obj := range objects {
				fmt.Printf("%-48s %10s %-20s\n", obj.Key, storage.FormatSize(obj.Size), obj.LastModified.Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("共 %d 个归档\n", len(objects))
		}

		fmt.Println("\nMinIO操作完成！")
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioRoom, "room", "r", "", "只操作指定房间的归档")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "显示归档统计信息")
	minioCmd.Flags().BoolVarP(&minioLatest, "latest", "l", false, "输出房间最新的归档快照")
	minioCmd.Flags().BoolVarP(&minioPurge, "purge", "d", false, "删除指定房间的全部归档")
	minioCmd.Flags().BoolVar(&minioRestore, "restore", false, "与 -l 一起使用，把最新归档写回快照存储")

	minioCmd.Example = `  # 列出所有归档
  queuefm minio

  # 只看某个房间
  queuefm minio -r lobby

  # 显示统计信息
  queuefm minio -s

  # 输出房间最新的归档快照
  queuefm minio -l -r lobby

  # 用最新归档覆盖快照存储中的房间快照
  queuefm minio -l --restore -r lobby

  # 删除房间的全部归档
  queuefm minio -d -r lobby`
}
